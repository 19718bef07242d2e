package service

import (
	"context"

	commsstore "commhub/internal/comms/store"
	identitymodels "commhub/internal/identity/models"
	identitystore "commhub/internal/identity/store"
	"commhub/pkg/domain"
	"commhub/pkg/requestcontext"
)

// Resource adapts one entity type to the governance engine. The engine
// never touches feature stores directly; every governed mutation funnels
// through these four methods.
type Resource interface {
	Load(ctx context.Context, id string) (identitymodels.SoftDelete, error)
	Apply(ctx context.Context, id string, mutate func(*identitymodels.SoftDelete)) error
	Purge(ctx context.Context, id string) error
	// Children returns owned records that cascade with this one,
	// regardless of their current deletion state.
	Children(ctx context.Context, id string) ([]ChildRef, error)
}

type ChildRef struct {
	EntityType domain.EntityType
	ID         string
}

// Resources builds the full adapter set over the feature stores.
func Resources(identities identitystore.Store, comms commsstore.Store) map[domain.EntityType]Resource {
	return map[domain.EntityType]Resource{
		domain.EntityContact:         &contactResource{store: identities},
		domain.EntityContactIdentity: &identityResource{store: identities},
		domain.EntityCommunication:   &communicationResource{store: comms},
		domain.EntityAttachment:      &attachmentResource{store: comms},
	}
}

type contactResource struct {
	store identitystore.Store
}

func (r *contactResource) Load(ctx context.Context, id string) (identitymodels.SoftDelete, error) {
	contactID, err := domain.ParseContactID(id)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	c, err := r.store.FindContact(ctx, contactID)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	return c.SoftDelete, nil
}

func (r *contactResource) Apply(ctx context.Context, id string, mutate func(*identitymodels.SoftDelete)) error {
	contactID, err := domain.ParseContactID(id)
	if err != nil {
		return err
	}
	c, err := r.store.FindContact(ctx, contactID)
	if err != nil {
		return err
	}
	mutate(&c.SoftDelete)
	c.UpdatedAt = requestcontext.Now(ctx)
	return r.store.UpdateContact(ctx, c)
}

func (r *contactResource) Purge(ctx context.Context, id string) error {
	contactID, err := domain.ParseContactID(id)
	if err != nil {
		return err
	}
	return r.store.PurgeContact(ctx, contactID)
}

func (r *contactResource) Children(context.Context, string) ([]ChildRef, error) {
	// Identities are not cascaded: a deleted contact keeps its identity
	// rows soft-visible for audit reconstruction.
	return nil, nil
}

type identityResource struct {
	store identitystore.Store
}

func (r *identityResource) Load(ctx context.Context, id string) (identitymodels.SoftDelete, error) {
	identityID, err := domain.ParseIdentityID(id)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	i, err := r.store.FindIdentityByID(ctx, identityID)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	return i.SoftDelete, nil
}

func (r *identityResource) Apply(ctx context.Context, id string, mutate func(*identitymodels.SoftDelete)) error {
	identityID, err := domain.ParseIdentityID(id)
	if err != nil {
		return err
	}
	i, err := r.store.FindIdentityByID(ctx, identityID)
	if err != nil {
		return err
	}
	mutate(&i.SoftDelete)
	return r.store.UpdateIdentity(ctx, i)
}

func (r *identityResource) Purge(ctx context.Context, id string) error {
	identityID, err := domain.ParseIdentityID(id)
	if err != nil {
		return err
	}
	return r.store.PurgeIdentity(ctx, identityID)
}

func (r *identityResource) Children(context.Context, string) ([]ChildRef, error) {
	return nil, nil
}

type communicationResource struct {
	store commsstore.Store
}

func (r *communicationResource) Load(ctx context.Context, id string) (identitymodels.SoftDelete, error) {
	commID, err := domain.ParseCommunicationID(id)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	c, err := r.store.Find(ctx, commID)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	return c.SoftDelete, nil
}

func (r *communicationResource) Apply(ctx context.Context, id string, mutate func(*identitymodels.SoftDelete)) error {
	commID, err := domain.ParseCommunicationID(id)
	if err != nil {
		return err
	}
	c, err := r.store.Find(ctx, commID)
	if err != nil {
		return err
	}
	mutate(&c.SoftDelete)
	c.UpdatedAt = requestcontext.Now(ctx)
	return r.store.Update(ctx, c)
}

func (r *communicationResource) Purge(ctx context.Context, id string) error {
	commID, err := domain.ParseCommunicationID(id)
	if err != nil {
		return err
	}
	return r.store.PurgeCommunication(ctx, commID)
}

func (r *communicationResource) Children(ctx context.Context, id string) ([]ChildRef, error) {
	commID, err := domain.ParseCommunicationID(id)
	if err != nil {
		return nil, err
	}
	attachments, err := r.store.ListAttachments(ctx, commID, true)
	if err != nil {
		return nil, err
	}
	var out []ChildRef
	for _, a := range attachments {
		out = append(out, ChildRef{EntityType: domain.EntityAttachment, ID: a.ID.String()})
	}
	return out, nil
}

type attachmentResource struct {
	store commsstore.Store
}

func (r *attachmentResource) Load(ctx context.Context, id string) (identitymodels.SoftDelete, error) {
	attachmentID, err := domain.ParseAttachmentID(id)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	a, err := r.store.FindAttachment(ctx, attachmentID)
	if err != nil {
		return identitymodels.SoftDelete{}, err
	}
	return a.SoftDelete, nil
}

func (r *attachmentResource) Apply(ctx context.Context, id string, mutate func(*identitymodels.SoftDelete)) error {
	attachmentID, err := domain.ParseAttachmentID(id)
	if err != nil {
		return err
	}
	a, err := r.store.FindAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	mutate(&a.SoftDelete)
	return r.store.UpdateAttachment(ctx, a)
}

func (r *attachmentResource) Purge(ctx context.Context, id string) error {
	attachmentID, err := domain.ParseAttachmentID(id)
	if err != nil {
		return err
	}
	return r.store.PurgeAttachment(ctx, attachmentID)
}

func (r *attachmentResource) Children(context.Context, string) ([]ChildRef, error) {
	return nil, nil
}
