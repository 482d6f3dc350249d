package dto

type MailBoxCreated struct {
	AccountID string `json:"accountId"`
	BoxID     string `json:"boxId"`
}

// MessagesDiscovered is emitted when a listing refresh finds messages that
// arrived after the box snapshot was cached.
type MessagesDiscovered struct {
	AccountID  string   `json:"accountId"`
	BoxID      string   `json:"boxId"`
	MessageIDs []string `json:"messageIds"`
}
