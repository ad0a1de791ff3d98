package authz

import (
	"strings"

	"github.com/GreyyDaze/orbit-server/internal/models"
)

// Capability is the outcome of evaluating a requester against a resource.
type Capability int

const (
	// None grants nothing.
	None Capability = iota
	// View grants read-only access.
	View
	// AuthorEdit grants full rights over the requester's own note,
	// regardless of board admin state.
	AuthorEdit
	// AdminFull grants every mutation on the board itself.
	AdminFull
	// AdminRepositionOnly lets a board admin move someone else's note but
	// change nothing else about it.
	AdminRepositionOnly
)

func (c Capability) String() string {
	switch c {
	case View:
		return "VIEW"
	case AuthorEdit:
		return "AUTHOR_EDIT"
	case AdminFull:
		return "ADMIN_FULL"
	case AdminRepositionOnly:
		return "ADMIN_REPOSITION_ONLY"
	default:
		return "NONE"
	}
}

// Requester is the identity context of a request. All three legs are
// optional and independent: an anonymous ghost token, an authenticated
// account, and a bearer admin secret.
type Requester struct {
	Ghost       *models.Ghost
	Account     *models.Account
	AdminSecret string
}

// BoardContext pairs a board (with CreatorGhost preloaded) with the
// request-scoped facts the evaluator cannot look up itself: whether the
// requester's account email is on the board's invite list. Keeping those a
// caller concern keeps evaluation a pure function.
type BoardContext struct {
	Board   *models.Board
	Invited bool
}

// SecretMatches compares a presented admin secret against the board's
// current secret. The comparison is case-insensitive, matching how tokens
// have historically been accepted; secrets are generated lowercase.
func SecretMatches(presented, actual string) bool {
	presented = strings.TrimSpace(presented)
	return presented != "" && strings.EqualFold(presented, actual)
}

// IsBoardAdmin reports whether the requester holds admin rights over the
// board: a matching bearer secret, or an account that owns the board's
// creator ghost.
func IsBoardAdmin(req Requester, board *models.Board) bool {
	if board == nil {
		return false
	}
	if SecretMatches(req.AdminSecret, board.AdminSecret) {
		return true
	}
	return req.Account != nil &&
		board.CreatorGhost != nil &&
		board.CreatorGhost.AccountID != nil &&
		*board.CreatorGhost.AccountID == req.Account.ID
}

// CanView reports whether the board is visible to the requester: public
// boards always, otherwise the creating ghost, the account owning it, an
// invited account, or a valid bearer secret.
func CanView(req Requester, bctx BoardContext) bool {
	board := bctx.Board
	if board == nil {
		return false
	}
	if board.IsPublic {
		return true
	}
	if req.Ghost != nil && req.Ghost.ID == board.CreatorGhostID {
		return true
	}
	if bctx.Invited {
		return true
	}
	return IsBoardAdmin(req, board)
}

// ForBoardWrite computes the capability for a mutation on the board itself.
func ForBoardWrite(req Requester, bctx BoardContext) Capability {
	board := bctx.Board
	if board == nil {
		return None
	}
	if req.Ghost != nil && req.Ghost.ID == board.CreatorGhostID {
		return AdminFull
	}
	if IsBoardAdmin(req, board) {
		return AdminFull
	}
	return None
}

// ForNoteWrite computes the capability for a mutation on a note within its
// board. Authorship wins over admin state; admins acting on someone else's
// note are restricted to repositioning.
func ForNoteWrite(req Requester, note *models.Note, bctx BoardContext) Capability {
	if note == nil || bctx.Board == nil {
		return None
	}

	if req.Ghost != nil && req.Ghost.ID == note.CreatorGhostID {
		return AuthorEdit
	}
	if req.Account != nil &&
		note.CreatorGhost != nil &&
		note.CreatorGhost.AccountID != nil &&
		*note.CreatorGhost.AccountID == req.Account.ID {
		return AuthorEdit
	}

	if IsBoardAdmin(req, bctx.Board) {
		return AdminRepositionOnly
	}
	return None
}

// repositionFields is the only field set AdminRepositionOnly accepts.
var repositionFields = map[string]struct{}{
	"position_x": {},
	"position_y": {},
}

// AllowsFields reports whether the capability permits a partial update
// touching exactly the given field set.
func AllowsFields(c Capability, fields []string) bool {
	switch c {
	case AuthorEdit, AdminFull:
		return true
	case AdminRepositionOnly:
		if len(fields) == 0 {
			return false
		}
		for _, f := range fields {
			if _, ok := repositionFields[f]; !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}
