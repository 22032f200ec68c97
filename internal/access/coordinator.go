package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vaultnotes/client/internal/docstore"
	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/eventlog"
)

// StorageMode says which backend owns a document's ciphertext. It is resolved
// once per call and carried explicitly, never re-derived mid-operation.
type StorageMode string

const (
	StorageLocal  StorageMode = "local"
	StorageHosted StorageMode = "hosted"
)

var (
	// ErrDocumentNotFound means neither backend has the id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrSelfRevoke marks a revoke list containing the session user. Self
	// removal is irreversible and only available through Leave.
	ErrSelfRevoke = errors.New("cannot revoke own access, leave the document instead")
)

// Document is the unified view the UI works with, regardless of backend.
type Document struct {
	ID      string
	Mode    StorageMode
	Meta    engine.DocumentMeta
	Content Content
}

// ListEntry is one row of the merged document listing.
type ListEntry struct {
	engine.DocumentMeta
	Mode StorageMode
}

type CreateOptions struct {
	ID     string
	Name   string
	Users  []string
	Groups []string
	Mode   StorageMode
}

// ShareResult is a grant/revoke outcome. VisibleTo is refreshed only when at
// least one target succeeded; on an all-failed call it stays nil.
type ShareResult struct {
	engine.AccessResult
	VisibleTo *engine.VisibleTo
}

// Coordinator orchestrates create/read/update of encrypted documents across
// the local store and the hosted backend. It is stateless between calls; all
// state lives in the two backing stores.
type Coordinator struct {
	user   engine.UserIdentity
	docs   engine.DocumentOps
	groups engine.GroupOps
	local  docstore.Store
	events *eventlog.Log
}

func NewCoordinator(user engine.UserIdentity, docs engine.DocumentOps, groups engine.GroupOps, local docstore.Store, events *eventlog.Log) *Coordinator {
	return &Coordinator{user: user, docs: docs, groups: groups, local: local, events: events}
}

// User returns the session identity the coordinator was constructed with.
func (c *Coordinator) User() engine.UserIdentity { return c.user }

// Create serializes and encrypts content, then persists it under the chosen
// storage mode. An empty mode defaults to local.
func (c *Coordinator) Create(ctx context.Context, content Content, opts CreateOptions) (Document, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return Document{}, fmt.Errorf("serialize document: %w", err)
	}
	encOpts := engine.EncryptOptions{
		DocumentID: opts.ID,
		Name:       opts.Name,
		Users:      opts.Users,
		Groups:     opts.Groups,
	}

	mode := opts.Mode
	if mode == "" {
		mode = StorageLocal
	}

	if mode == StorageHosted {
		meta, err := c.docs.EncryptToStore(ctx, payload, encOpts)
		if err != nil {
			c.events.Error(fmt.Sprintf("create hosted document: %v", err))
			return Document{}, err
		}
		c.events.Success(fmt.Sprintf("document %s created in hosted store", meta.DocumentID))
		return Document{ID: meta.DocumentID, Mode: StorageHosted, Meta: meta, Content: content}, nil
	}

	doc, meta, err := c.docs.Encrypt(ctx, payload, encOpts)
	if err != nil {
		c.events.Error(fmt.Sprintf("create local document: %v", err))
		return Document{}, err
	}
	if err := c.local.Save(ctx, doc.ID, engine.BytesBase64(doc.Data), opts.Name); err != nil {
		c.events.Error(fmt.Sprintf("persist local document %s: %v", doc.ID, err))
		return Document{}, err
	}
	c.events.Success(fmt.Sprintf("document %s created in local store", doc.ID))
	return Document{ID: doc.ID, Mode: StorageLocal, Meta: meta, Content: content}, nil
}

// Resolve determines where a document lives. Local membership wins when the
// same id exists in both backends.
func (c *Coordinator) Resolve(ctx context.Context, id string) (StorageMode, error) {
	exists, err := c.local.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if exists {
		return StorageLocal, nil
	}
	return StorageHosted, nil
}

// Read fetches, decrypts and deserializes a document from whichever backend
// holds it.
func (c *Coordinator) Read(ctx context.Context, id string) (Document, error) {
	mode, err := c.Resolve(ctx, id)
	if err != nil {
		return Document{}, err
	}

	var (
		plain []byte
		meta  engine.DocumentMeta
	)
	if mode == StorageLocal {
		record, err := c.local.Get(ctx, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return Document{}, ErrDocumentNotFound
			}
			return Document{}, err
		}
		data, err := engine.Base64Bytes(record.Content)
		if err != nil {
			return Document{}, fmt.Errorf("decode stored ciphertext for %s: %w", id, err)
		}
		plain, meta, err = c.docs.Decrypt(ctx, id, data)
		if err != nil {
			return Document{}, mapNotFound(err)
		}
		if record.Name != "" {
			meta.DocumentName = record.Name
		}
	} else {
		plain, meta, err = c.docs.DecryptFromStore(ctx, id)
		if err != nil {
			return Document{}, mapNotFound(err)
		}
	}

	var content Content
	if err := json.Unmarshal(plain, &content); err != nil {
		return Document{}, fmt.Errorf("deserialize document %s: %w", id, err)
	}
	return Document{ID: id, Mode: mode, Meta: meta, Content: content}, nil
}

// Update replaces the whole logical content. There is no delta path; the full
// payload is re-serialized and re-encrypted every time, and for local records
// the new ciphertext overwrites the stored one in a single write.
func (c *Coordinator) Update(ctx context.Context, id string, content Content) (Document, error) {
	mode, err := c.Resolve(ctx, id)
	if err != nil {
		return Document{}, err
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return Document{}, fmt.Errorf("serialize document: %w", err)
	}

	if mode == StorageHosted {
		if err := c.docs.UpdateEncryptedDataInStore(ctx, id, payload); err != nil {
			c.events.Error(fmt.Sprintf("update hosted document %s: %v", id, err))
			return Document{}, mapNotFound(err)
		}
	} else {
		record, err := c.local.Get(ctx, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return Document{}, ErrDocumentNotFound
			}
			return Document{}, err
		}
		doc, err := c.docs.UpdateEncryptedData(ctx, id, payload)
		if err != nil {
			c.events.Error(fmt.Sprintf("update local document %s: %v", id, err))
			return Document{}, mapNotFound(err)
		}
		if err := c.local.Update(ctx, id, engine.BytesBase64(doc.Data), record.Name); err != nil {
			return Document{}, err
		}
	}

	meta, err := c.docs.GetMetadata(ctx, id)
	if err != nil {
		return Document{}, mapNotFound(err)
	}
	c.events.Success(fmt.Sprintf("document %s updated", id))
	return Document{ID: id, Mode: mode, Meta: meta, Content: content}, nil
}

// AddListItem appends one item to list content and rewrites the document.
func (c *Coordinator) AddListItem(ctx context.Context, id, item string) (Document, error) {
	doc, err := c.Read(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if err := doc.Content.AddItem(item); err != nil {
		return Document{}, err
	}
	return c.Update(ctx, id, doc.Content)
}

// Rename updates the display name only. Content is untouched.
func (c *Coordinator) Rename(ctx context.Context, id, name string) (engine.DocumentMeta, error) {
	mode, err := c.Resolve(ctx, id)
	if err != nil {
		return engine.DocumentMeta{}, err
	}
	meta, err := c.docs.UpdateName(ctx, id, name)
	if err != nil {
		c.events.Error(fmt.Sprintf("rename document %s: %v", id, err))
		return engine.DocumentMeta{}, mapNotFound(err)
	}
	if mode == StorageLocal {
		record, err := c.local.Get(ctx, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return engine.DocumentMeta{}, ErrDocumentNotFound
			}
			return engine.DocumentMeta{}, err
		}
		if err := c.local.Update(ctx, id, record.Content, name); err != nil {
			return engine.DocumentMeta{}, err
		}
	}
	c.events.Success(fmt.Sprintf("document %s renamed to %q", id, name))
	return meta, nil
}

// Grant adds users and groups to a document's access list. A call with zero
// targets is a no-op and is never sent to the engine.
func (c *Coordinator) Grant(ctx context.Context, id string, users, groups []string) (ShareResult, error) {
	if len(users)+len(groups) == 0 {
		return noopShareResult(), nil
	}
	result, err := c.docs.GrantAccess(ctx, id, users, groups)
	if err != nil {
		c.events.Error(fmt.Sprintf("grant access on %s: %v", id, err))
		return ShareResult{}, mapNotFound(err)
	}
	return c.shareOutcome(ctx, id, "grant", result)
}

// Revoke removes users and groups from a document's access list. The session
// user must not appear in the list; callers route self removal through Leave.
func (c *Coordinator) Revoke(ctx context.Context, id string, users, groups []string) (ShareResult, error) {
	if len(users)+len(groups) == 0 {
		return noopShareResult(), nil
	}
	for _, user := range users {
		if user == c.user.ID {
			return ShareResult{}, ErrSelfRevoke
		}
	}
	result, err := c.docs.RevokeAccess(ctx, id, users, groups)
	if err != nil {
		c.events.Error(fmt.Sprintf("revoke access on %s: %v", id, err))
		return ShareResult{}, mapNotFound(err)
	}
	return c.shareOutcome(ctx, id, "revoke", result)
}

// shareOutcome reports per-target results and refreshes visibility only when
// something actually changed. Failed targets are reported, never retried.
func (c *Coordinator) shareOutcome(ctx context.Context, id, op string, result engine.AccessResult) (ShareResult, error) {
	out := ShareResult{AccessResult: result}
	if len(result.Failed) > 0 {
		c.events.Error(fmt.Sprintf("%s on %s: %d of %d targets failed", op, id, len(result.Failed), len(result.Succeeded)+len(result.Failed)))
	}
	if len(result.Succeeded) == 0 {
		return out, nil
	}
	meta, err := c.docs.GetMetadata(ctx, id)
	if err != nil {
		return out, mapNotFound(err)
	}
	out.VisibleTo = &meta.VisibleTo
	c.events.Success(fmt.Sprintf("%s on %s: %d targets updated", op, id, len(result.Succeeded)))
	return out, nil
}

// Leave removes the session user from a shared document. This is the only
// self-removal path and it is irreversible.
func (c *Coordinator) Leave(ctx context.Context, id string) error {
	result, err := c.docs.RevokeAccess(ctx, id, []string{c.user.ID}, nil)
	if err != nil {
		c.events.Error(fmt.Sprintf("leave document %s: %v", id, err))
		return mapNotFound(err)
	}
	if len(result.Failed) > 0 {
		err := fmt.Errorf("leave document %s: %s", id, result.Failed[0].Error)
		c.events.Error(err.Error())
		return err
	}
	c.events.Success(fmt.Sprintf("left document %s", id))
	return nil
}

// List produces the merged view of every document the user can reach, with
// each row tagged by the backend that holds its ciphertext.
func (c *Coordinator) List(ctx context.Context) ([]ListEntry, error) {
	metas, err := c.docs.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]ListEntry, 0, len(metas))
	for _, meta := range metas {
		mode, err := c.Resolve(ctx, meta.DocumentID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ListEntry{DocumentMeta: meta, Mode: mode})
	}
	return entries, nil
}

// noopShareResult is what a zero-target Grant or Revoke returns: empty
// slices, not nil, so the serialized result keeps its shape.
func noopShareResult() ShareResult {
	return ShareResult{AccessResult: engine.AccessResult{
		Succeeded: []engine.SucceededID{},
		Failed:    []engine.FailedID{},
	}}
}

func mapNotFound(err error) error {
	if engine.IsCode(err, engine.CodeDocumentNotFound) {
		return ErrDocumentNotFound
	}
	return err
}
