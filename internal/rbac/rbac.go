package rbac

// Level is a workspace access level.
type Level string
type Action string

const (
	LevelOwner    Level = "owner"
	LevelMember   Level = "member"
	LevelReadOnly Level = "readonly"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

func Can(level Level, action Action) bool {
	switch level {
	case LevelOwner:
		return true
	case LevelMember:
		return action == ActionRead || action == ActionWrite
	case LevelReadOnly:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown levels to readonly.
func Normalize(level string) Level {
	switch Level(level) {
	case LevelOwner, LevelMember, LevelReadOnly:
		return Level(level)
	default:
		return LevelReadOnly
	}
}

// Grantable reports whether level can be given to a member. Ownership is never granted.
func Grantable(level string) bool {
	switch Level(level) {
	case LevelMember, LevelReadOnly:
		return true
	default:
		return false
	}
}
