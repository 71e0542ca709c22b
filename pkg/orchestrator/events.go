package orchestrator

import (
	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/tags"
)

// Domain collaborators report entity changes through these helpers. Each
// one synthesizes an invalidation event carrying the entity's own tag plus
// its collection tag, and enqueues it for the next batched drain. This is
// the only inbound interface other subsystems use.

// OnEntityChange enqueues an invalidation event for any entity type.
func (o *Orchestrator) OnEntityChange(eventType tags.EventType, entity, entityID string, extraTags ...string) {
	tagList := append([]string{
		cache.EntityTag(entity, entityID),
		cache.CollectionTag(entity),
	}, extraTags...)

	o.Enqueue(tags.Event{
		Type:     eventType,
		Entity:   entity,
		EntityID: entityID,
		Tags:     tagList,
	})
}

// OnUserUpdate reports a changed user.
func (o *Orchestrator) OnUserUpdate(userID string) {
	o.OnEntityChange(tags.EventUpdate, "user", userID)
}

// OnUserDelete reports a removed user.
func (o *Orchestrator) OnUserDelete(userID string) {
	o.OnEntityChange(tags.EventDelete, "user", userID)
}

// OnApplicationUpdate reports a changed application. The owning student's
// application list is invalidated alongside the application itself.
func (o *Orchestrator) OnApplicationUpdate(applicationID, studentID string) {
	o.OnEntityChange(tags.EventUpdate, "application", applicationID,
		cache.EntityTag("applications:student", studentID))
}

// OnLetterUpdate reports a changed recommendation letter.
func (o *Orchestrator) OnLetterUpdate(letterID string) {
	o.OnEntityChange(tags.EventUpdate, "letter", letterID)
}
