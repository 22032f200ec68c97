// Package memengine is an in-process stand-in for the external encryption
// engine, used for local development and tests the way miniredis stands in
// for redis. It satisfies the engine interfaces with real symmetric crypto
// (argon2id passcode derivation, secretbox payload sealing) but implements no
// wire protocol and holds all state in memory.
package memengine

import (
	"context"
	"sort"
	"sync"
	"time"

	"vaultnotes/client/internal/auth"
	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/util"
)

type userRecord struct {
	identity         engine.UserIdentity
	salt             []byte
	keyCheck         []byte
	needsRotation    bool
	deviceAuthorized bool
}

type docRecord struct {
	id      string
	name    string
	created time.Time
	updated time.Time
	ownerID string
	key     [32]byte

	// Hosted documents keep their ciphertext resident here; local documents
	// hand it back to the caller and store nothing.
	hosted     bool
	ciphertext []byte

	users  map[string]bool
	groups map[string]bool
}

type groupRecord struct {
	id      string
	name    string
	admins  map[string]bool
	members map[string]bool
}

// Engine is the in-memory engine. Credentials are verified against the same
// secret the auth.Broker signs with, which is how the dev loop shares one
// trust root.
type Engine struct {
	secret []byte

	mu      sync.Mutex
	users   map[string]*userRecord
	docs    map[string]*docRecord
	groups  map[string]*groupRecord
	current engine.UserIdentity
}

func New(tokenSecret []byte) *Engine {
	return &Engine{
		secret: tokenSecret,
		users:  make(map[string]*userRecord),
		docs:   make(map[string]*docRecord),
		groups: make(map[string]*groupRecord),
	}
}

func (m *Engine) User() engine.UserOps          { return userOps{m} }
func (m *Engine) Documents() engine.DocumentOps { return docOps{m} }
func (m *Engine) Groups() engine.GroupOps       { return groupOps{m} }

// SetNeedsRotation flags a user so the next Initialize reports a pending
// rotation. Dev/test hook.
func (m *Engine) SetNeedsRotation(userID string, needsRotation bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.needsRotation = needsRotation
	}
}

func (m *Engine) authenticate(ctx context.Context, credentials engine.CredentialProvider) (engine.UserIdentity, error) {
	token, err := credentials.Credential(ctx)
	if err != nil {
		if engine.IsCode(err, engine.CodeCredentialRejected) {
			return engine.UserIdentity{}, err
		}
		return engine.UserIdentity{}, engine.Errorf(engine.CodeCredentialRejected, "credential fetch failed: %v", err)
	}
	identity, err := auth.Verify(m.secret, token)
	if err != nil {
		return engine.UserIdentity{}, engine.Errorf(engine.CodeCredentialRejected, "credential rejected: %v", err)
	}
	return identity, nil
}

func (m *Engine) Initialize(ctx context.Context, credentials engine.CredentialProvider, passcodes engine.PasscodeProvider) (engine.InitResult, error) {
	identity, err := m.authenticate(ctx, credentials)
	if err != nil {
		return engine.InitResult{}, err
	}

	m.mu.Lock()
	user, exists := m.users[identity.ID]
	m.mu.Unlock()

	if !exists {
		// The passcode wait happens outside the lock: it can suspend for as
		// long as the user takes to answer.
		secret, err := passcodes.Passcode(ctx, engine.PasscodeNewUser)
		if err != nil {
			return engine.InitResult{}, err
		}
		m.mu.Lock()
		m.users[identity.ID] = newUserRecord(identity, secret)
		m.current = identity
		m.mu.Unlock()
		return engine.InitResult{UserID: identity.ID, Status: engine.UserStatusNew}, nil
	}

	secret, err := passcodes.Passcode(ctx, engine.PasscodeExistingUserUnlock)
	if err != nil {
		return engine.InitResult{}, err
	}
	if !user.unlock(secret) {
		return engine.InitResult{}, engine.Errorf(engine.CodeIncorrectPasscode, "passcode does not unlock key material")
	}

	m.mu.Lock()
	m.current = identity
	needsRotation := user.needsRotation
	m.mu.Unlock()

	return engine.InitResult{
		UserID:        identity.ID,
		Status:        engine.UserStatusExisting,
		NeedsRotation: needsRotation,
	}, nil
}

func (m *Engine) CreateUser(ctx context.Context, credentials engine.CredentialProvider, passcode string, opts engine.CreateUserOptions) (engine.InitResult, error) {
	identity, err := m.authenticate(ctx, credentials)
	if err != nil {
		return engine.InitResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[identity.ID]; exists {
		return engine.InitResult{}, engine.Errorf(engine.CodeInternal, "user %s already exists", identity.ID)
	}
	user := newUserRecord(identity, passcode)
	user.needsRotation = opts.NeedsRotation
	m.users[identity.ID] = user
	return engine.InitResult{UserID: identity.ID, Status: engine.UserStatusNew, NeedsRotation: opts.NeedsRotation}, nil
}

func (m *Engine) CreateDevice(ctx context.Context, credentials engine.CredentialProvider, passcode string) error {
	identity, err := m.authenticate(ctx, credentials)
	if err != nil {
		return err
	}

	m.mu.Lock()
	user, exists := m.users[identity.ID]
	m.mu.Unlock()
	if !exists {
		return engine.Errorf(engine.CodeUserNotFound, "user %s not found", identity.ID)
	}
	if !user.unlock(passcode) {
		return engine.Errorf(engine.CodeIncorrectPasscode, "passcode does not unlock key material")
	}

	m.mu.Lock()
	user.deviceAuthorized = true
	m.mu.Unlock()
	return nil
}

// caller returns the session's user or an error when no session exists.
// Callers must hold m.mu.
func (m *Engine) caller() (engine.UserIdentity, error) {
	if m.current.ID == "" {
		return engine.UserIdentity{}, engine.Errorf(engine.CodeInternal, "no initialized session")
	}
	return m.current, nil
}

func (m *Engine) docMeta(doc *docRecord, callerID string) engine.DocumentMeta {
	association := engine.AssociationFromUser
	if doc.ownerID == callerID {
		association = engine.AssociationOwner
	} else if !doc.users[callerID] {
		association = engine.AssociationFromGroup
	}

	visible := engine.VisibleTo{Users: []engine.UserVisibility{}, Groups: []engine.GroupVisibility{}}
	for _, id := range sortedKeys(doc.users) {
		visible.Users = append(visible.Users, engine.UserVisibility{ID: id})
	}
	for _, id := range sortedKeys(doc.groups) {
		name := ""
		if group, ok := m.groups[id]; ok {
			name = group.name
		}
		visible.Groups = append(visible.Groups, engine.GroupVisibility{ID: id, Name: name})
	}

	return engine.DocumentMeta{
		DocumentID:   doc.id,
		DocumentName: doc.name,
		Created:      doc.created,
		Updated:      doc.updated,
		Association:  association,
		VisibleTo:    visible,
	}
}

// canAccess reports whether the user can decrypt the document, directly or
// through group membership.
func (m *Engine) canAccess(doc *docRecord, userID string) bool {
	if doc.users[userID] {
		return true
	}
	for groupID := range doc.groups {
		if group, ok := m.groups[groupID]; ok && (group.members[userID] || group.admins[userID]) {
			return true
		}
	}
	return false
}

func (m *Engine) lookupDoc(documentID string) (*docRecord, error) {
	doc, ok := m.docs[documentID]
	if !ok {
		return nil, engine.Errorf(engine.CodeDocumentNotFound, "document %s not found", documentID)
	}
	return doc, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func newDocRecord(id, name, ownerID string, opts engine.EncryptOptions, hosted bool, m *Engine) *docRecord {
	now := time.Now()
	doc := &docRecord{
		id:      id,
		name:    name,
		created: now,
		updated: now,
		ownerID: ownerID,
		key:     newKey(),
		hosted:  hosted,
		users:   map[string]bool{ownerID: true},
		groups:  map[string]bool{},
	}
	for _, userID := range opts.Users {
		if _, ok := m.users[userID]; ok {
			doc.users[userID] = true
		}
	}
	for _, groupID := range opts.Groups {
		if _, ok := m.groups[groupID]; ok {
			doc.groups[groupID] = true
		}
	}
	return doc
}

func newDocID(opts engine.EncryptOptions) string {
	if opts.DocumentID != "" {
		return opts.DocumentID
	}
	return util.NewID("doc")
}
