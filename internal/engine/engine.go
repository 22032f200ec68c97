// Package engine declares the boundary with the external end-to-end
// encryption SDK. The SDK is consumed through these interfaces and never
// reimplemented here; memengine provides an in-process stand-in for local
// development and tests.
package engine

import "context"

// CredentialProvider supplies a short-lived bearer credential on demand.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// PasscodeReason tells the passcode supplier why a secret is being requested.
type PasscodeReason string

const (
	PasscodeNewUser            PasscodeReason = "newUser"
	PasscodeExistingUserUnlock PasscodeReason = "existingUserUnlock"
)

// PasscodeProvider supplies the user's passcode when the engine needs to
// unlock or create local key material. Implementations may suspend
// indefinitely; cancellation is caller-driven through ctx.
type PasscodeProvider interface {
	Passcode(ctx context.Context, reason PasscodeReason) (string, error)
}

// Engine is the full SDK surface the client consumes.
type Engine interface {
	// Initialize unlocks or provisions the identity behind the supplied
	// credential. It calls the passcode provider when key material must be
	// unlocked or created, and fails with CodeIncorrectPasscode when the
	// supplied secret does not match.
	Initialize(ctx context.Context, credentials CredentialProvider, passcodes PasscodeProvider) (InitResult, error)

	// CreateUser and CreateDevice are the explicit provisioning entry points
	// used outside the full unlock flow. Each is a single round-trip.
	CreateUser(ctx context.Context, credentials CredentialProvider, passcode string, opts CreateUserOptions) (InitResult, error)
	CreateDevice(ctx context.Context, credentials CredentialProvider, passcode string) error

	User() UserOps
	Documents() DocumentOps
	Groups() GroupOps
}

type UserOps interface {
	RotateMasterKey(ctx context.Context, passcode string) error
	ChangePasscode(ctx context.Context, current, updated string) error
	DeauthorizeDevice(ctx context.Context) (DeviceDeauthorizeResult, error)
}

type DocumentOps interface {
	// Encrypt returns ciphertext the caller stores itself; EncryptToStore
	// leaves the ciphertext resident in the hosted backend.
	Encrypt(ctx context.Context, data []byte, opts EncryptOptions) (EncryptedDocument, DocumentMeta, error)
	EncryptToStore(ctx context.Context, data []byte, opts EncryptOptions) (DocumentMeta, error)

	Decrypt(ctx context.Context, documentID string, data []byte) ([]byte, DocumentMeta, error)
	DecryptFromStore(ctx context.Context, documentID string) ([]byte, DocumentMeta, error)

	UpdateEncryptedData(ctx context.Context, documentID string, data []byte) (EncryptedDocument, error)
	UpdateEncryptedDataInStore(ctx context.Context, documentID string, data []byte) error

	UpdateName(ctx context.Context, documentID, name string) (DocumentMeta, error)
	GetMetadata(ctx context.Context, documentID string) (DocumentMeta, error)
	List(ctx context.Context) ([]DocumentMeta, error)

	GrantAccess(ctx context.Context, documentID string, users, groups []string) (AccessResult, error)
	RevokeAccess(ctx context.Context, documentID string, users, groups []string) (AccessResult, error)
}

type GroupOps interface {
	Create(ctx context.Context, opts GroupCreateOptions) (GroupDetail, error)
	Get(ctx context.Context, groupID string) (GroupDetail, error)
	Update(ctx context.Context, groupID, name string) (GroupMeta, error)
	Delete(ctx context.Context, groupID string) error
	List(ctx context.Context) ([]GroupMeta, error)

	AddMembers(ctx context.Context, groupID string, users []string) (AccessResult, error)
	RemoveMembers(ctx context.Context, groupID string, users []string) (AccessResult, error)
	RemoveSelfAsMember(ctx context.Context, groupID string) error
	AddAdmins(ctx context.Context, groupID string, users []string) (AccessResult, error)
	RemoveAdmins(ctx context.Context, groupID string, users []string) (AccessResult, error)

	RotateGroupPrivateKey(ctx context.Context, groupID string) error
}
