package memengine

import (
	"context"
	"sort"
	"time"

	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/util"
)

type userOps struct {
	m *Engine
}

func (o userOps) RotateMasterKey(ctx context.Context, passcode string) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return err
	}
	user := o.m.users[caller.ID]
	if !user.unlock(passcode) {
		return engine.Errorf(engine.CodeIncorrectPasscode, "passcode does not unlock key material")
	}
	user.reseal(passcode)
	user.needsRotation = false
	return nil
}

func (o userOps) ChangePasscode(ctx context.Context, current, updated string) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return err
	}
	user := o.m.users[caller.ID]
	if !user.unlock(current) {
		return engine.Errorf(engine.CodeIncorrectPasscode, "current passcode is incorrect")
	}
	user.reseal(updated)
	return nil
}

func (o userOps) DeauthorizeDevice(ctx context.Context) (engine.DeviceDeauthorizeResult, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.DeviceDeauthorizeResult{}, err
	}
	user := o.m.users[caller.ID]
	deleted := user.deviceAuthorized
	user.deviceAuthorized = false
	return engine.DeviceDeauthorizeResult{TransformKeyDeleted: deleted}, nil
}

type docOps struct {
	m *Engine
}

func (o docOps) Encrypt(ctx context.Context, data []byte, opts engine.EncryptOptions) (engine.EncryptedDocument, engine.DocumentMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.EncryptedDocument{}, engine.DocumentMeta{}, err
	}
	id := newDocID(opts)
	if _, exists := o.m.docs[id]; exists {
		return engine.EncryptedDocument{}, engine.DocumentMeta{}, engine.Errorf(engine.CodeInternal, "document %s already exists", id)
	}
	doc := newDocRecord(id, opts.Name, caller.ID, opts, false, o.m)
	o.m.docs[id] = doc
	return engine.EncryptedDocument{ID: id, Data: seal(doc.key, data)}, o.m.docMeta(doc, caller.ID), nil
}

func (o docOps) EncryptToStore(ctx context.Context, data []byte, opts engine.EncryptOptions) (engine.DocumentMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.DocumentMeta{}, err
	}
	id := newDocID(opts)
	if _, exists := o.m.docs[id]; exists {
		return engine.DocumentMeta{}, engine.Errorf(engine.CodeInternal, "document %s already exists", id)
	}
	doc := newDocRecord(id, opts.Name, caller.ID, opts, true, o.m)
	doc.ciphertext = seal(doc.key, data)
	o.m.docs[id] = doc
	return o.m.docMeta(doc, caller.ID), nil
}

func (o docOps) Decrypt(ctx context.Context, documentID string, data []byte) ([]byte, engine.DocumentMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return nil, engine.DocumentMeta{}, err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return nil, engine.DocumentMeta{}, err
	}
	if !o.m.canAccess(doc, caller.ID) {
		return nil, engine.DocumentMeta{}, engine.Errorf(engine.CodeDocumentNotFound, "document %s not found", documentID)
	}
	plaintext, ok := open(doc.key, data)
	if !ok {
		return nil, engine.DocumentMeta{}, engine.Errorf(engine.CodeInternal, "ciphertext does not open for document %s", documentID)
	}
	return plaintext, o.m.docMeta(doc, caller.ID), nil
}

func (o docOps) DecryptFromStore(ctx context.Context, documentID string) ([]byte, engine.DocumentMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return nil, engine.DocumentMeta{}, err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return nil, engine.DocumentMeta{}, err
	}
	if !doc.hosted {
		return nil, engine.DocumentMeta{}, engine.Errorf(engine.CodeDocumentNotFound, "document %s is not hosted", documentID)
	}
	if !o.m.canAccess(doc, caller.ID) {
		return nil, engine.DocumentMeta{}, engine.Errorf(engine.CodeDocumentNotFound, "document %s not found", documentID)
	}
	plaintext, ok := open(doc.key, doc.ciphertext)
	if !ok {
		return nil, engine.DocumentMeta{}, engine.Errorf(engine.CodeInternal, "stored ciphertext does not open for document %s", documentID)
	}
	return plaintext, o.m.docMeta(doc, caller.ID), nil
}

func (o docOps) UpdateEncryptedData(ctx context.Context, documentID string, data []byte) (engine.EncryptedDocument, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.EncryptedDocument{}, err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return engine.EncryptedDocument{}, err
	}
	if !o.m.canAccess(doc, caller.ID) {
		return engine.EncryptedDocument{}, engine.Errorf(engine.CodeDocumentNotFound, "document %s not found", documentID)
	}
	doc.updated = time.Now()
	return engine.EncryptedDocument{ID: documentID, Data: seal(doc.key, data)}, nil
}

func (o docOps) UpdateEncryptedDataInStore(ctx context.Context, documentID string, data []byte) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return err
	}
	if !doc.hosted {
		return engine.Errorf(engine.CodeDocumentNotFound, "document %s is not hosted", documentID)
	}
	if !o.m.canAccess(doc, caller.ID) {
		return engine.Errorf(engine.CodeDocumentNotFound, "document %s not found", documentID)
	}
	doc.ciphertext = seal(doc.key, data)
	doc.updated = time.Now()
	return nil
}

func (o docOps) UpdateName(ctx context.Context, documentID, name string) (engine.DocumentMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.DocumentMeta{}, err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return engine.DocumentMeta{}, err
	}
	doc.name = name
	doc.updated = time.Now()
	return o.m.docMeta(doc, caller.ID), nil
}

func (o docOps) GetMetadata(ctx context.Context, documentID string) (engine.DocumentMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.DocumentMeta{}, err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return engine.DocumentMeta{}, err
	}
	return o.m.docMeta(doc, caller.ID), nil
}

func (o docOps) List(ctx context.Context) ([]engine.DocumentMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return nil, err
	}
	metas := make([]engine.DocumentMeta, 0)
	for _, id := range sortedDocIDs(o.m.docs) {
		doc := o.m.docs[id]
		if o.m.canAccess(doc, caller.ID) {
			metas = append(metas, o.m.docMeta(doc, caller.ID))
		}
	}
	return metas, nil
}

func (o docOps) GrantAccess(ctx context.Context, documentID string, users, groups []string) (engine.AccessResult, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	if _, err := o.m.caller(); err != nil {
		return engine.AccessResult{}, err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return engine.AccessResult{}, err
	}

	result := emptyResult()
	for _, userID := range users {
		if _, ok := o.m.users[userID]; !ok {
			result.Failed = append(result.Failed, engine.FailedID{ID: userID, Type: engine.PrincipalUser, Error: "user not found"})
			continue
		}
		doc.users[userID] = true
		result.Succeeded = append(result.Succeeded, engine.SucceededID{ID: userID, Type: engine.PrincipalUser})
	}
	for _, groupID := range groups {
		if _, ok := o.m.groups[groupID]; !ok {
			result.Failed = append(result.Failed, engine.FailedID{ID: groupID, Type: engine.PrincipalGroup, Error: "group not found"})
			continue
		}
		doc.groups[groupID] = true
		result.Succeeded = append(result.Succeeded, engine.SucceededID{ID: groupID, Type: engine.PrincipalGroup})
	}
	return result, nil
}

func (o docOps) RevokeAccess(ctx context.Context, documentID string, users, groups []string) (engine.AccessResult, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	if _, err := o.m.caller(); err != nil {
		return engine.AccessResult{}, err
	}
	doc, err := o.m.lookupDoc(documentID)
	if err != nil {
		return engine.AccessResult{}, err
	}

	result := emptyResult()
	for _, userID := range users {
		if !doc.users[userID] {
			result.Failed = append(result.Failed, engine.FailedID{ID: userID, Type: engine.PrincipalUser, Error: "user has no access"})
			continue
		}
		delete(doc.users, userID)
		result.Succeeded = append(result.Succeeded, engine.SucceededID{ID: userID, Type: engine.PrincipalUser})
	}
	for _, groupID := range groups {
		if !doc.groups[groupID] {
			result.Failed = append(result.Failed, engine.FailedID{ID: groupID, Type: engine.PrincipalGroup, Error: "group has no access"})
			continue
		}
		delete(doc.groups, groupID)
		result.Succeeded = append(result.Succeeded, engine.SucceededID{ID: groupID, Type: engine.PrincipalGroup})
	}
	return result, nil
}

type groupOps struct {
	m *Engine
}

func (o groupOps) Create(ctx context.Context, opts engine.GroupCreateOptions) (engine.GroupDetail, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.GroupDetail{}, err
	}
	id := opts.GroupID
	if id == "" {
		id = util.NewID("grp")
	}
	if _, exists := o.m.groups[id]; exists {
		return engine.GroupDetail{}, engine.Errorf(engine.CodeInternal, "group %s already exists", id)
	}
	group := &groupRecord{
		id:      id,
		name:    opts.GroupName,
		admins:  map[string]bool{caller.ID: true},
		members: map[string]bool{},
	}
	if opts.AddAsMember {
		group.members[caller.ID] = true
	}
	o.m.groups[id] = group
	return o.m.groupDetail(group, caller.ID), nil
}

func (o groupOps) Get(ctx context.Context, groupID string) (engine.GroupDetail, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.GroupDetail{}, err
	}
	group, err := o.m.lookupGroup(groupID)
	if err != nil {
		return engine.GroupDetail{}, err
	}
	return o.m.groupDetail(group, caller.ID), nil
}

func (o groupOps) Update(ctx context.Context, groupID, name string) (engine.GroupMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.GroupMeta{}, err
	}
	group, err := o.m.lookupGroup(groupID)
	if err != nil {
		return engine.GroupMeta{}, err
	}
	if !group.admins[caller.ID] {
		return engine.GroupMeta{}, engine.Errorf(engine.CodeNotGroupAdmin, "user %s is not an admin of %s", caller.ID, groupID)
	}
	group.name = name
	return o.m.groupMeta(group, caller.ID), nil
}

func (o groupOps) Delete(ctx context.Context, groupID string) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return err
	}
	group, err := o.m.lookupGroup(groupID)
	if err != nil {
		return err
	}
	if !group.admins[caller.ID] {
		return engine.Errorf(engine.CodeNotGroupAdmin, "user %s is not an admin of %s", caller.ID, groupID)
	}
	delete(o.m.groups, groupID)
	for _, doc := range o.m.docs {
		delete(doc.groups, groupID)
	}
	return nil
}

func (o groupOps) List(ctx context.Context) ([]engine.GroupMeta, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return nil, err
	}
	metas := make([]engine.GroupMeta, 0)
	for _, id := range sortedGroupIDs(o.m.groups) {
		group := o.m.groups[id]
		if group.admins[caller.ID] || group.members[caller.ID] {
			metas = append(metas, o.m.groupMeta(group, caller.ID))
		}
	}
	return metas, nil
}

func (o groupOps) AddMembers(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return o.mutateMembers(ctx, groupID, users, func(group *groupRecord, userID string) (bool, string) {
		if _, ok := o.m.users[userID]; !ok {
			return false, "user not found"
		}
		group.members[userID] = true
		return true, ""
	})
}

func (o groupOps) RemoveMembers(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return o.mutateMembers(ctx, groupID, users, func(group *groupRecord, userID string) (bool, string) {
		if !group.members[userID] {
			return false, "user is not a member"
		}
		delete(group.members, userID)
		return true, ""
	})
}

func (o groupOps) AddAdmins(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return o.mutateMembers(ctx, groupID, users, func(group *groupRecord, userID string) (bool, string) {
		if _, ok := o.m.users[userID]; !ok {
			return false, "user not found"
		}
		group.admins[userID] = true
		return true, ""
	})
}

func (o groupOps) RemoveAdmins(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return o.mutateMembers(ctx, groupID, users, func(group *groupRecord, userID string) (bool, string) {
		if !group.admins[userID] {
			return false, "user is not an admin"
		}
		delete(group.admins, userID)
		return true, ""
	})
}

func (o groupOps) mutateMembers(ctx context.Context, groupID string, users []string, apply func(*groupRecord, string) (bool, string)) (engine.AccessResult, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return engine.AccessResult{}, err
	}
	group, err := o.m.lookupGroup(groupID)
	if err != nil {
		return engine.AccessResult{}, err
	}
	if !group.admins[caller.ID] {
		return engine.AccessResult{}, engine.Errorf(engine.CodeNotGroupAdmin, "user %s is not an admin of %s", caller.ID, groupID)
	}

	result := emptyResult()
	for _, userID := range users {
		if ok, reason := apply(group, userID); ok {
			result.Succeeded = append(result.Succeeded, engine.SucceededID{ID: userID, Type: engine.PrincipalUser})
		} else {
			result.Failed = append(result.Failed, engine.FailedID{ID: userID, Type: engine.PrincipalUser, Error: reason})
		}
	}
	return result, nil
}

func (o groupOps) RemoveSelfAsMember(ctx context.Context, groupID string) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return err
	}
	group, err := o.m.lookupGroup(groupID)
	if err != nil {
		return err
	}
	if !group.members[caller.ID] {
		return engine.Errorf(engine.CodeGroupNotFound, "user %s is not a member of %s", caller.ID, groupID)
	}
	delete(group.members, caller.ID)
	return nil
}

func (o groupOps) RotateGroupPrivateKey(ctx context.Context, groupID string) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	caller, err := o.m.caller()
	if err != nil {
		return err
	}
	group, err := o.m.lookupGroup(groupID)
	if err != nil {
		return err
	}
	if !group.admins[caller.ID] {
		return engine.Errorf(engine.CodeNotGroupAdmin, "user %s is not an admin of %s", caller.ID, groupID)
	}
	// Key material is not modelled per group here; rotation is a permission
	// check and a no-op.
	return nil
}

func (m *Engine) lookupGroup(groupID string) (*groupRecord, error) {
	group, ok := m.groups[groupID]
	if !ok {
		return nil, engine.Errorf(engine.CodeGroupNotFound, "group %s not found", groupID)
	}
	return group, nil
}

func (m *Engine) groupMeta(group *groupRecord, callerID string) engine.GroupMeta {
	return engine.GroupMeta{
		GroupID:   group.id,
		GroupName: group.name,
		IsAdmin:   group.admins[callerID],
		IsMember:  group.members[callerID],
	}
}

func (m *Engine) groupDetail(group *groupRecord, callerID string) engine.GroupDetail {
	return engine.GroupDetail{
		GroupMeta:    m.groupMeta(group, callerID),
		GroupAdmins:  sortedKeys(group.admins),
		GroupMembers: sortedKeys(group.members),
	}
}

func emptyResult() engine.AccessResult {
	return engine.AccessResult{
		Succeeded: []engine.SucceededID{},
		Failed:    []engine.FailedID{},
	}
}

func sortedDocIDs(docs map[string]*docRecord) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedGroupIDs(groups map[string]*groupRecord) []string {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
