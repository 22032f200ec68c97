package memengine

import (
	"context"
	"testing"
	"time"

	"vaultnotes/client/internal/auth"
	"vaultnotes/client/internal/engine"
)

var testSecret = []byte("memengine-test-secret")

func testBroker(id, name string) *auth.Broker {
	return auth.NewBroker(testSecret, time.Hour, func() engine.UserIdentity {
		return engine.UserIdentity{ID: id, DisplayName: name}
	})
}

type staticPasscode string

func (p staticPasscode) Passcode(ctx context.Context, reason engine.PasscodeReason) (string, error) {
	return string(p), nil
}

// initializeUser provisions and unlocks a user, leaving the engine session
// bound to them.
func initializeUser(t *testing.T, m *Engine, id, passcode string) {
	t.Helper()
	result, err := m.Initialize(context.Background(), testBroker(id, id), staticPasscode(passcode))
	if err != nil {
		t.Fatalf("Initialize(%s) failed: %v", id, err)
	}
	if result.UserID != id {
		t.Fatalf("expected user %s, got %s", id, result.UserID)
	}
}

func TestInitializeProvisionsNewUser(t *testing.T) {
	m := New(testSecret)
	result, err := m.Initialize(context.Background(), testBroker("user-1", "Avery"), staticPasscode("hunter2"))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if result.Status != engine.UserStatusNew {
		t.Fatalf("expected new user status, got %q", result.Status)
	}
	if result.NeedsRotation {
		t.Fatalf("fresh user should not need rotation")
	}
}

func TestInitializeUnlocksExistingUser(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-1", "hunter2")

	result, err := m.Initialize(context.Background(), testBroker("user-1", "Avery"), staticPasscode("hunter2"))
	if err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if result.Status != engine.UserStatusExisting {
		t.Fatalf("expected existing status, got %q", result.Status)
	}
}

func TestInitializeRejectsWrongPasscode(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-1", "hunter2")

	_, err := m.Initialize(context.Background(), testBroker("user-1", "Avery"), staticPasscode("wrong"))
	if !engine.IsCode(err, engine.CodeIncorrectPasscode) {
		t.Fatalf("expected INCORRECT_PASSCODE, got %v", err)
	}
}

func TestInitializeRejectsBadCredential(t *testing.T) {
	m := New(testSecret)
	badBroker := auth.NewBroker([]byte("other-secret"), time.Hour, func() engine.UserIdentity {
		return engine.UserIdentity{ID: "user-1"}
	})
	_, err := m.Initialize(context.Background(), badBroker, staticPasscode("hunter2"))
	if !engine.IsCode(err, engine.CodeCredentialRejected) {
		t.Fatalf("expected CREDENTIAL_REJECTED, got %v", err)
	}
}

func TestRotateMasterKeyClearsPendingRotation(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-1", "hunter2")
	m.SetNeedsRotation("user-1", true)

	result, err := m.Initialize(context.Background(), testBroker("user-1", "Avery"), staticPasscode("hunter2"))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !result.NeedsRotation {
		t.Fatalf("expected NeedsRotation")
	}

	if err := m.User().RotateMasterKey(context.Background(), "wrong"); !engine.IsCode(err, engine.CodeIncorrectPasscode) {
		t.Fatalf("expected INCORRECT_PASSCODE for wrong rotation passcode, got %v", err)
	}
	if err := m.User().RotateMasterKey(context.Background(), "hunter2"); err != nil {
		t.Fatalf("RotateMasterKey failed: %v", err)
	}

	result, err = m.Initialize(context.Background(), testBroker("user-1", "Avery"), staticPasscode("hunter2"))
	if err != nil {
		t.Fatalf("Initialize after rotation failed: %v", err)
	}
	if result.NeedsRotation {
		t.Fatalf("rotation flag should be cleared")
	}
}

func TestChangePasscodeResealsKeyMaterial(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-1", "hunter2")

	if err := m.User().ChangePasscode(context.Background(), "wrong", "correct horse"); !engine.IsCode(err, engine.CodeIncorrectPasscode) {
		t.Fatalf("expected INCORRECT_PASSCODE for wrong current passcode, got %v", err)
	}
	if err := m.User().ChangePasscode(context.Background(), "hunter2", "correct horse"); err != nil {
		t.Fatalf("ChangePasscode failed: %v", err)
	}

	_, err := m.Initialize(context.Background(), testBroker("user-1", "Avery"), staticPasscode("hunter2"))
	if !engine.IsCode(err, engine.CodeIncorrectPasscode) {
		t.Fatalf("old passcode must stop unlocking, got %v", err)
	}
	result, err := m.Initialize(context.Background(), testBroker("user-1", "Avery"), staticPasscode("correct horse"))
	if err != nil {
		t.Fatalf("Initialize with new passcode failed: %v", err)
	}
	if result.Status != engine.UserStatusExisting {
		t.Fatalf("expected existing status, got %q", result.Status)
	}
}

func TestDeauthorizeDeviceReportsTransformKeyOnce(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-1", "hunter2")

	result, err := m.User().DeauthorizeDevice(context.Background())
	if err != nil {
		t.Fatalf("DeauthorizeDevice failed: %v", err)
	}
	if !result.TransformKeyDeleted {
		t.Fatalf("first deauthorize should delete the transform key")
	}

	result, err = m.User().DeauthorizeDevice(context.Background())
	if err != nil {
		t.Fatalf("second DeauthorizeDevice failed: %v", err)
	}
	if result.TransformKeyDeleted {
		t.Fatalf("second deauthorize has no transform key left to delete")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-1", "hunter2")

	plaintext := []byte(`{"type":"list","content":["milk"]}`)
	encrypted, meta, err := m.Documents().Encrypt(context.Background(), plaintext, engine.EncryptOptions{DocumentID: "L1", Name: "Groceries"})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if encrypted.ID != "L1" || meta.DocumentName != "Groceries" {
		t.Fatalf("unexpected encrypt result %+v %+v", encrypted, meta)
	}
	if meta.Association != engine.AssociationOwner {
		t.Fatalf("creator should be owner, got %q", meta.Association)
	}

	decrypted, _, err := m.Documents().Decrypt(context.Background(), "L1", encrypted.Data)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}
}

func TestHostedDocumentLifecycle(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-1", "hunter2")
	ctx := context.Background()

	meta, err := m.Documents().EncryptToStore(ctx, []byte("v1"), engine.EncryptOptions{Name: "Hosted"})
	if err != nil {
		t.Fatalf("EncryptToStore failed: %v", err)
	}

	data, _, err := m.Documents().DecryptFromStore(ctx, meta.DocumentID)
	if err != nil {
		t.Fatalf("DecryptFromStore failed: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("expected v1, got %q", data)
	}

	if err := m.Documents().UpdateEncryptedDataInStore(ctx, meta.DocumentID, []byte("v2")); err != nil {
		t.Fatalf("UpdateEncryptedDataInStore failed: %v", err)
	}
	data, _, err = m.Documents().DecryptFromStore(ctx, meta.DocumentID)
	if err != nil {
		t.Fatalf("DecryptFromStore after update failed: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("expected v2, got %q", data)
	}
}

func TestGrantAccessReportsPartialResults(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "user-b", "pw")
	initializeUser(t, m, "user-1", "hunter2")
	ctx := context.Background()

	_, _, err := m.Documents().Encrypt(ctx, []byte("data"), engine.EncryptOptions{DocumentID: "D1"})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	result, err := m.Documents().GrantAccess(ctx, "D1", []string{"user-b", "ghost"}, nil)
	if err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}
	if len(result.Succeeded)+len(result.Failed) != 2 {
		t.Fatalf("result does not cover all targets: %+v", result)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0].ID != "user-b" {
		t.Fatalf("expected user-b to succeed: %+v", result)
	}
	if len(result.Failed) != 1 || result.Failed[0].ID != "ghost" {
		t.Fatalf("expected ghost to fail: %+v", result)
	}

	meta, err := m.Documents().GetMetadata(ctx, "D1")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if len(meta.VisibleTo.Users) != 2 {
		t.Fatalf("expected owner plus one grantee, got %+v", meta.VisibleTo.Users)
	}
}

func TestGroupMembershipGivesDocumentAccess(t *testing.T) {
	m := New(testSecret)
	initializeUser(t, m, "member", "pw")
	initializeUser(t, m, "owner", "hunter2")
	ctx := context.Background()

	group, err := m.Groups().Create(ctx, engine.GroupCreateOptions{GroupID: "team", GroupName: "Team"})
	if err != nil {
		t.Fatalf("Create group failed: %v", err)
	}
	if result, err := m.Groups().AddMembers(ctx, group.GroupID, []string{"member"}); err != nil || len(result.Succeeded) != 1 {
		t.Fatalf("AddMembers failed: %v %+v", err, result)
	}

	encrypted, _, err := m.Documents().Encrypt(ctx, []byte("shared"), engine.EncryptOptions{DocumentID: "D1", Groups: []string{"team"}})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Re-bind the session to the member and read through the group.
	initializeUser(t, m, "member", "pw")
	data, meta, err := m.Documents().Decrypt(ctx, "D1", encrypted.Data)
	if err != nil {
		t.Fatalf("member Decrypt failed: %v", err)
	}
	if string(data) != "shared" {
		t.Fatalf("expected shared, got %q", data)
	}
	if meta.Association != engine.AssociationFromGroup {
		t.Fatalf("expected fromGroup association, got %q", meta.Association)
	}
}
