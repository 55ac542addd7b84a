package model

import "time"

// Note is the local, plaintext representation of a note on one device.
type Note struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	SyncVersion int64      `json:"syncVersion"`
	IsDirty     bool       `json:"isDirty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the note carries a tombstone.
func (n *Note) IsDeleted() bool {
	return n.DeletedAt != nil
}

// Tag is a local label. Tags live only on the device that created them.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ServerNote is the authoritative per-user record held by the sync endpoint.
// Title and content are ciphertext; the server never sees plaintext.
type ServerNote struct {
	ID               string     `json:"id" dynamodbav:"note_id"`
	UserID           string     `json:"userId" dynamodbav:"user_id"`
	EncryptedTitle   string     `json:"encryptedTitle" dynamodbav:"encrypted_title"`
	EncryptedContent string     `json:"encryptedContent" dynamodbav:"encrypted_content"`
	YjsState         []byte     `json:"yjsState,omitempty" dynamodbav:"yjs_state,omitempty"`
	SyncVersion      int64      `json:"syncVersion" dynamodbav:"sync_version"`
	ChangeSeq        int64      `json:"changeSeq" dynamodbav:"change_seq"`
	CreatedAt        time.Time  `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt        time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty" dynamodbav:"deleted_at,omitempty"`
	LastOpID         string     `json:"-" dynamodbav:"last_op_id,omitempty"`
}

// PushRequest is the body of POST /api/sync/push.
type PushRequest struct {
	ID               string     `json:"id"`
	EncryptedTitle   string     `json:"encryptedTitle"`
	EncryptedContent string     `json:"encryptedContent"`
	YjsState         []byte     `json:"yjsState,omitempty"`
	SyncVersion      int64      `json:"syncVersion"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	OpID             string     `json:"opId,omitempty"`
}

// PushResponse is returned for every processed push. Conflict is set when the
// server kept its own record because the client was behind.
type PushResponse struct {
	Success  bool       `json:"success"`
	Note     ServerNote `json:"note"`
	Conflict bool       `json:"conflict"`
}

// PullResponse is returned by GET /api/sync/pull.
type PullResponse struct {
	Notes         []ServerNote `json:"notes"`
	LatestVersion int64        `json:"latestVersion"`
}

// User is an account on the sync server.
type User struct {
	ID           string    `json:"id" dynamodbav:"user_id"`
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"created_at"`
}

// Credentials is the body of the register and login endpoints.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries the session token issued by register and login.
type AuthResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}
