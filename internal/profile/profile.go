// Package profile holds the user's selection state: the chosen region and
// interaction category, and the trusted contact list. Region and contacts
// are persisted on every change.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/knowyourrights/knowyourrights/internal/content"
)

const (
	KeyRegion   = "selectedState"
	KeyContacts = "trustedContacts"

	DefaultRegion = "California"
)

const (
	PreferenceSMS  = "sms"
	PreferenceCall = "call"
	PreferenceBoth = "both"
)

var (
	ErrInvalidRegion   = errors.New("invalid region")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidContact  = errors.New("invalid contact")
	ErrContactNotFound = errors.New("contact not found")
)

type TrustedContact struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone_number"`
	Preference string `json:"notification_preference"`
}

// Store is the key-value persistence the profile needs.
type Store interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

type Profile struct {
	store         Store
	defaultRegion string

	mu       sync.RWMutex
	region   string
	category string
	contacts []TrustedContact
}

// New returns a profile with defaults applied. Call Load to read the
// persisted values.
func New(store Store, defaultRegion string) *Profile {
	if !content.ValidRegion(defaultRegion) {
		defaultRegion = DefaultRegion
	}
	return &Profile{
		store:         store,
		defaultRegion: defaultRegion,
		region:        defaultRegion,
		category:      content.Categories()[0].ID,
		contacts:      []TrustedContact{},
	}
}

// Load reads the persisted region and contact list. Missing or corrupt
// values are treated as unset and leave the defaults in place; only
// storage failures are returned.
func (p *Profile) Load(ctx context.Context) error {
	region, ok, err := p.store.GetValue(ctx, KeyRegion)
	if err != nil {
		return fmt.Errorf("load region: %w", err)
	}
	if ok && !content.ValidRegion(region) {
		slog.Warn("profile: ignoring stored region", "value", region)
		ok = false
	}

	raw, haveContacts, err := p.store.GetValue(ctx, KeyContacts)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	var contacts []TrustedContact
	if haveContacts {
		contacts, err = decodeContacts(raw)
		if err != nil {
			slog.Warn("profile: ignoring stored contacts", "error", err)
			contacts = nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.region = region
	} else {
		p.region = p.defaultRegion
	}
	if contacts == nil {
		contacts = []TrustedContact{}
	}
	p.contacts = contacts
	return nil
}

func decodeContacts(raw string) ([]TrustedContact, error) {
	var contacts []TrustedContact
	if err := json.Unmarshal([]byte(raw), &contacts); err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if c.ID == "" || strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
			return nil, fmt.Errorf("%w: stored contact %q is incomplete", ErrInvalidContact, c.ID)
		}
	}
	for i := range contacts {
		if !validPreference(contacts[i].Preference) {
			contacts[i].Preference = PreferenceBoth
		}
	}
	return contacts, nil
}

func (p *Profile) Region() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.region
}

func (p *Profile) SetRegion(ctx context.Context, region string) error {
	if !content.ValidRegion(region) {
		return fmt.Errorf("%w: %q", ErrInvalidRegion, region)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.SetValue(ctx, KeyRegion, region); err != nil {
		return fmt.Errorf("persist region: %w", err)
	}
	p.region = region
	return nil
}

// Category is ephemeral and never persisted.
func (p *Profile) Category() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.category
}

func (p *Profile) SetCategory(_ context.Context, category string) error {
	if _, ok := content.LookupCategory(category); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.category = category
	return nil
}

// Contacts returns a copy of the contact list in insertion order.
func (p *Profile) Contacts() []TrustedContact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.contacts)
}

func (p *Profile) AddContact(ctx context.Context, name, phone, preference string) (TrustedContact, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	preference = strings.ToLower(strings.TrimSpace(preference))
	if name == "" {
		return TrustedContact{}, fmt.Errorf("%w: name is required", ErrInvalidContact)
	}
	if phone == "" {
		return TrustedContact{}, fmt.Errorf("%w: phone number is required", ErrInvalidContact)
	}
	if preference == "" {
		preference = PreferenceBoth
	}
	if !validPreference(preference) {
		return TrustedContact{}, fmt.Errorf("%w: unknown notification preference %q", ErrInvalidContact, preference)
	}

	contact := TrustedContact{ID: uuid.NewString(), Name: name, Phone: phone, Preference: preference}

	p.mu.Lock()
	defer p.mu.Unlock()
	next := append(slices.Clone(p.contacts), contact)
	if err := p.persistContactsLocked(ctx, next); err != nil {
		return TrustedContact{}, err
	}
	p.contacts = next
	return contact, nil
}

func (p *Profile) RemoveContact(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := slices.IndexFunc(p.contacts, func(c TrustedContact) bool { return c.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrContactNotFound, id)
	}
	next := slices.Delete(slices.Clone(p.contacts), idx, idx+1)
	if err := p.persistContactsLocked(ctx, next); err != nil {
		return err
	}
	p.contacts = next
	return nil
}

func (p *Profile) persistContactsLocked(ctx context.Context, contacts []TrustedContact) error {
	encoded, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}
	if err := p.store.SetValue(ctx, KeyContacts, string(encoded)); err != nil {
		return fmt.Errorf("persist contacts: %w", err)
	}
	return nil
}

func validPreference(p string) bool {
	switch p {
	case PreferenceSMS, PreferenceCall, PreferenceBoth:
		return true
	}
	return false
}
