package enum

type EntityType string

const (
	MAILBOX EntityType = "MAILBOX"
)

func (entityType EntityType) String() string {
	return string(entityType)
}
