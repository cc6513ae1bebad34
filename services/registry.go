package services

import (
	"sync"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry caches channel/message references by (event, kind). The map
// is advisory: message_refs rows are the authority, and Load rebuilds
// the cache from them on boot.
type Registry struct {
	DB *gorm.DB

	mu   sync.RWMutex
	refs map[string]models.MessageRef
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{DB: db, refs: make(map[string]models.MessageRef)}
}

// Load rebuilds the in-memory map from the store.
func (r *Registry) Load() error {
	var rows []models.MessageRef
	if err := r.DB.Where("archived = false").Find(&rows).Error; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = make(map[string]models.MessageRef, len(rows))
	for _, row := range rows {
		r.refs[utils.RegistryKey(row.EventID, row.Kind)] = row
	}
	return nil
}

// Get returns the cached ref for (eventID, kind), if any.
func (r *Registry) Get(eventID, kind string) (models.MessageRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[utils.RegistryKey(eventID, kind)]
	return ref, ok
}

// Put upserts the ref in the store and refreshes the cache entry.
func (r *Registry) Put(eventID, kind, channelRef, messageRef string) error {
	row := models.MessageRef{
		ID:         utils.NewID("ref"),
		EventID:    eventID,
		Kind:       kind,
		ChannelRef: channelRef,
		MessageRef: messageRef,
	}
	err := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_ref", "message_ref", "archived"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[utils.RegistryKey(eventID, kind)] = row
	return nil
}

// Archive marks every ref of an event archived and drops it from the
// cache. Used when lists lock and review channels close.
func (r *Registry) Archive(eventID string) error {
	if err := r.DB.Model(&models.MessageRef{}).
		Where("event_id = ?", eventID).
		Update("archived", true).Error; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, ref := range r.refs {
		if ref.EventID == eventID {
			delete(r.refs, key)
		}
	}
	return nil
}
