package engine

import "time"

// UserIdentity is the externally supplied identity for the current session.
// It is immutable once the session starts.
type UserIdentity struct {
	ID          string
	DisplayName string
}

// UserStatus reports whether Initialize found existing key material or
// provisioned the user from scratch.
type UserStatus string

const (
	UserStatusNew      UserStatus = "new"
	UserStatusExisting UserStatus = "existing"
)

// InitResult is produced exactly once per successful Initialize call.
type InitResult struct {
	UserID        string
	Status        UserStatus
	NeedsRotation bool
}

type CreateUserOptions struct {
	NeedsRotation bool
}

// Association describes a document's relationship to the current user.
type Association string

const (
	AssociationOwner     Association = "owner"
	AssociationFromUser  Association = "fromUser"
	AssociationFromGroup Association = "fromGroup"
)

type UserVisibility struct {
	ID string `json:"id"`
}

type GroupVisibility struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type VisibleTo struct {
	Users  []UserVisibility  `json:"users"`
	Groups []GroupVisibility `json:"groups"`
}

// DocumentMeta is owned by whichever backend created the document. For hosted
// documents it is only ever cached transiently in memory on this side.
type DocumentMeta struct {
	DocumentID   string
	DocumentName string
	Created      time.Time
	Updated      time.Time
	Association  Association
	VisibleTo    VisibleTo
}

// EncryptedDocument carries ciphertext the caller is responsible for storing.
type EncryptedDocument struct {
	ID   string
	Data []byte
}

type EncryptOptions struct {
	DocumentID string
	Name       string
	Users      []string
	Groups     []string
}

// PrincipalType distinguishes the two kinds of access targets.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

type SucceededID struct {
	ID   string        `json:"id"`
	Type PrincipalType `json:"type"`
}

type FailedID struct {
	ID    string        `json:"id"`
	Type  PrincipalType `json:"type"`
	Error string        `json:"error"`
}

// AccessResult reports a grant/revoke outcome per target. For every call,
// len(Succeeded)+len(Failed) equals the number of requested targets.
type AccessResult struct {
	Succeeded []SucceededID `json:"succeeded"`
	Failed    []FailedID    `json:"failed"`
}

type GroupMeta struct {
	GroupID   string
	GroupName string
	IsAdmin   bool
	IsMember  bool
}

type GroupDetail struct {
	GroupMeta
	GroupAdmins  []string
	GroupMembers []string
}

type GroupCreateOptions struct {
	GroupID     string
	GroupName   string
	AddAsMember bool
}

// DeviceDeauthorizeResult mirrors the engine's deauthorize response.
type DeviceDeauthorizeResult struct {
	TransformKeyDeleted bool
}
