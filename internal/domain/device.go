package domain

import (
	"context"
	"errors"
	"strings"
)

// DeviceIdentity is the server-side record a device credential resolves to.
type DeviceIdentity struct {
	ID       string
	SchoolID string
	AuthKey  string
}

// StoragePrefix is the object-store prefix owned by the device. It is derived
// from the stored record only.
func (d DeviceIdentity) StoragePrefix() string {
	return "devices/" + d.AuthKey
}

// School is the subset of school master data used by the core.
type School struct {
	ID             string
	Name           string
	RecognitionKey string
}

// Student is one roster entry.
type Student struct {
	ID        string
	SchoolID  string
	Year      int
	Grade     int
	ClassNo   int
	StudentNo int
	Name      string
	Gender    *string
	HeightCM  *float64
	WeightKG  *float64
}

// RosterKey addresses a single student inside a school.
type RosterKey struct {
	SchoolID  string
	Year      int
	Grade     int
	ClassNo   int
	StudentNo int
}

// Directory looks up devices, schools and students in the relational store.
// Lookups that find nothing return the matching Err*NotFound sentinel.
type Directory interface {
	DeviceByAuthKey(ctx context.Context, authKey string) (DeviceIdentity, error)
	SchoolByRecognitionKey(ctx context.Context, recognitionKey string) (School, error)
	StudentByRoster(ctx context.Context, key RosterKey) (Student, error)
	ListRoster(ctx context.Context, schoolID string, year, grade, classNo int) ([]Student, error)
}

// Resolver maps opaque credentials to identities. It fails closed.
type Resolver struct {
	dir Directory
}

// NewResolver constructs a Resolver.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the device identity for a credential.
func (r *Resolver) Resolve(ctx context.Context, credential string) (DeviceIdentity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return DeviceIdentity{}, ErrDeviceNotFound
	}
	device, err := r.dir.DeviceByAuthKey(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return DeviceIdentity{}, ErrDeviceNotFound
		}
		return DeviceIdentity{}, unavailable("resolve device", err)
	}
	return device, nil
}

// ResolveSchool returns the school for a recognition key.
func (r *Resolver) ResolveSchool(ctx context.Context, recognitionKey string) (School, error) {
	recognitionKey = strings.TrimSpace(recognitionKey)
	if recognitionKey == "" {
		return School{}, ErrSchoolNotFound
	}
	school, err := r.dir.SchoolByRecognitionKey(ctx, recognitionKey)
	if err != nil {
		if errors.Is(err, ErrSchoolNotFound) {
			return School{}, ErrSchoolNotFound
		}
		return School{}, unavailable("resolve school", err)
	}
	return school, nil
}

// DeviceService answers the read-only lookups devices make at start-up.
type DeviceService struct {
	resolver *Resolver
	dir      Directory
}

// NewDeviceService constructs a DeviceService.
func NewDeviceService(dir Directory) *DeviceService {
	return &DeviceService{resolver: NewResolver(dir), dir: dir}
}

// SchoolInfo returns the school a recognition key belongs to.
func (s *DeviceService) SchoolInfo(ctx context.Context, recognitionKey string) (School, error) {
	return s.resolver.ResolveSchool(ctx, recognitionKey)
}

// ClassStudents lists a class roster for the school behind recognitionKey.
func (s *DeviceService) ClassStudents(ctx context.Context, recognitionKey string, year, grade, classNo int) ([]Student, error) {
	school, err := s.resolver.ResolveSchool(ctx, recognitionKey)
	if err != nil {
		return nil, err
	}
	students, err := s.dir.ListRoster(ctx, school.ID, year, grade, classNo)
	if err != nil {
		return nil, unavailable("list roster", err)
	}
	return students, nil
}
