package access

import (
	"context"
	"fmt"

	"vaultnotes/client/internal/engine"
)

// Group orchestration is thin. The engine owns membership state; this layer
// adds the zero-target no-op rule and event reporting.

func (c *Coordinator) CreateGroup(ctx context.Context, opts engine.GroupCreateOptions) (engine.GroupDetail, error) {
	detail, err := c.groups.Create(ctx, opts)
	if err != nil {
		c.events.Error(fmt.Sprintf("create group: %v", err))
		return engine.GroupDetail{}, err
	}
	c.events.Success(fmt.Sprintf("group %s created", detail.GroupID))
	return detail, nil
}

func (c *Coordinator) GetGroup(ctx context.Context, groupID string) (engine.GroupDetail, error) {
	return c.groups.Get(ctx, groupID)
}

func (c *Coordinator) UpdateGroup(ctx context.Context, groupID, name string) (engine.GroupMeta, error) {
	meta, err := c.groups.Update(ctx, groupID, name)
	if err != nil {
		c.events.Error(fmt.Sprintf("rename group %s: %v", groupID, err))
		return engine.GroupMeta{}, err
	}
	c.events.Success(fmt.Sprintf("group %s renamed to %q", groupID, name))
	return meta, nil
}

func (c *Coordinator) DeleteGroup(ctx context.Context, groupID string) error {
	if err := c.groups.Delete(ctx, groupID); err != nil {
		c.events.Error(fmt.Sprintf("delete group %s: %v", groupID, err))
		return err
	}
	c.events.Success(fmt.Sprintf("group %s deleted", groupID))
	return nil
}

func (c *Coordinator) ListGroups(ctx context.Context) ([]engine.GroupMeta, error) {
	return c.groups.List(ctx)
}

func (c *Coordinator) AddMembers(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return c.mutateGroup(ctx, groupID, "add members", users, c.groups.AddMembers)
}

func (c *Coordinator) RemoveMembers(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return c.mutateGroup(ctx, groupID, "remove members", users, c.groups.RemoveMembers)
}

func (c *Coordinator) AddAdmins(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return c.mutateGroup(ctx, groupID, "add admins", users, c.groups.AddAdmins)
}

func (c *Coordinator) RemoveAdmins(ctx context.Context, groupID string, users []string) (engine.AccessResult, error) {
	return c.mutateGroup(ctx, groupID, "remove admins", users, c.groups.RemoveAdmins)
}

func (c *Coordinator) mutateGroup(ctx context.Context, groupID, op string, users []string, call func(context.Context, string, []string) (engine.AccessResult, error)) (engine.AccessResult, error) {
	if len(users) == 0 {
		return engine.AccessResult{}, nil
	}
	result, err := call(ctx, groupID, users)
	if err != nil {
		c.events.Error(fmt.Sprintf("%s on group %s: %v", op, groupID, err))
		return engine.AccessResult{}, err
	}
	if len(result.Failed) > 0 {
		c.events.Error(fmt.Sprintf("%s on group %s: %d of %d targets failed", op, groupID, len(result.Failed), len(result.Succeeded)+len(result.Failed)))
	}
	if len(result.Succeeded) > 0 {
		c.events.Success(fmt.Sprintf("%s on group %s: %d targets updated", op, groupID, len(result.Succeeded)))
	}
	return result, nil
}

// LeaveGroup removes the session user's own membership. Like Leave on a
// document, it is routed separately from the generic removal path.
func (c *Coordinator) LeaveGroup(ctx context.Context, groupID string) error {
	if err := c.groups.RemoveSelfAsMember(ctx, groupID); err != nil {
		c.events.Error(fmt.Sprintf("leave group %s: %v", groupID, err))
		return err
	}
	c.events.Success(fmt.Sprintf("left group %s", groupID))
	return nil
}

func (c *Coordinator) RotateGroupKey(ctx context.Context, groupID string) error {
	if err := c.groups.RotateGroupPrivateKey(ctx, groupID); err != nil {
		c.events.Error(fmt.Sprintf("rotate group %s key: %v", groupID, err))
		return err
	}
	c.events.Success(fmt.Sprintf("group %s key rotated", groupID))
	return nil
}
