package user

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayFake keeps profiles & extensions in maps and records every call.
type gatewayFake struct {
	mu       sync.Mutex
	seq      int
	profiles map[string]Profile
	exts     map[string]map[Type]Extension // user ID -> type -> extension
	calls    []string
	failures map[string]error // "<op>" or "<op>:<type slug>" -> error
}

func newGatewayFake() *gatewayFake {
	return &gatewayFake{
		profiles: make(map[string]Profile),
		exts:     make(map[string]map[Type]Extension),
		failures: make(map[string]error),
	}
}

func (gw *gatewayFake) failOn(op string, err error, t ...Type) {
	if len(t) > 0 {
		op += ":" + t[0].Slug()
	}
	gw.failures[op] = err
}

func (gw *gatewayFake) record(op string, t ...Type) error {
	key := op
	if len(t) > 0 {
		key += ":" + t[0].Slug()
	}
	gw.calls = append(gw.calls, key)
	if err, ok := gw.failures[key]; ok {
		return err
	}
	return gw.failures[op]
}

func (gw *gatewayFake) nextID() string {
	gw.seq++
	return strconv.Itoa(gw.seq)
}

func (gw *gatewayFake) CreateProfile(_ context.Context, usr User) (Profile, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if err := gw.record("CreateProfile"); err != nil {
		return Profile{}, err
	}
	if _, ok := gw.profiles[usr.ID]; ok {
		return Profile{}, ErrProfileExists
	}
	p := Profile{ID: gw.nextID(), UserID: usr.ID}
	gw.profiles[usr.ID] = p
	return p, nil
}

func (gw *gatewayFake) userExts(userID string) map[Type]Extension {
	if gw.exts[userID] == nil {
		gw.exts[userID] = make(map[Type]Extension)
	}
	return gw.exts[userID]
}

func (gw *gatewayFake) CreateExtension(_ context.Context, t Type, usr User, isActive bool) (Extension, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if err := gw.record("CreateExtension", t); err != nil {
		return Extension{}, err
	}
	exts := gw.userExts(usr.ID)
	if _, ok := exts[t]; ok {
		return Extension{}, ErrExtensionExists
	}
	ext := Extension{ID: gw.nextID(), UserID: usr.ID, Type: t, IsActive: isActive}
	exts[t] = ext
	return ext, nil
}

func (gw *gatewayFake) UpsertExtension(_ context.Context, t Type, usr User, isActive bool) (Extension, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if err := gw.record("UpsertExtension", t); err != nil {
		return Extension{}, err
	}
	exts := gw.userExts(usr.ID)
	ext, ok := exts[t]
	if !ok {
		ext = Extension{ID: gw.nextID(), UserID: usr.ID, Type: t}
	}
	ext.IsActive = isActive
	exts[t] = ext
	return ext, nil
}

func (gw *gatewayFake) GetExtension(_ context.Context, t Type, usr User) (Extension, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if err := gw.record("GetExtension", t); err != nil {
		return Extension{}, err
	}
	ext, ok := gw.userExts(usr.ID)[t]
	if !ok {
		return Extension{}, ErrExtensionNotFound
	}
	return ext, nil
}

func (gw *gatewayFake) SaveExtension(_ context.Context, ext Extension) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if err := gw.record("SaveExtension", ext.Type); err != nil {
		return err
	}
	exts := gw.userExts(ext.UserID)
	if _, ok := exts[ext.Type]; !ok {
		return ErrExtensionNotFound
	}
	exts[ext.Type] = ext
	return nil
}

// activeTypes returns the types of the active extensions of `userID`, in canonical order.
func (gw *gatewayFake) activeTypes(userID string) []Type {
	var types []Type
	for _, t := range AllTypes {
		if ext, ok := gw.exts[userID][t]; ok && ext.IsActive {
			types = append(types, t)
		}
	}
	return types
}

// loggerFake counts messages per level and keeps the error entries.
type loggerFake struct {
	mu     sync.Mutex
	counts map[string]int
	errors []loggedError
}

type loggedError struct {
	msg    string
	fields map[string]interface{}
}

func newLoggerFake() *loggerFake { return &loggerFake{counts: make(map[string]int)} }

func (l *loggerFake) log(level string) {
	l.mu.Lock()
	l.counts[level]++
	l.mu.Unlock()
}

func (l *loggerFake) Debug(string, ...interface{}) { l.log("debug") }
func (l *loggerFake) Info(string, ...interface{})  { l.log("info") }
func (l *loggerFake) Warn(string, ...interface{})  { l.log("warn") }
func (l *loggerFake) Error(msg string, args ...interface{}) {
	l.log("error")
	entry := loggedError{msg: msg}
	for _, arg := range args {
		if fields, ok := arg.(map[string]interface{}); ok {
			entry.fields = fields
		}
	}
	l.mu.Lock()
	l.errors = append(l.errors, entry)
	l.mu.Unlock()
}
func (l *loggerFake) Fatal(msg string, _ ...interface{}) {
	l.log("fatal")
	panic(msg)
}

func newTestReconciler(t *testing.T) (*Reconciler, *gatewayFake, *loggerFake) {
	gw, logger := newGatewayFake(), newLoggerFake()
	recon, err := NewReconciler(gw, logger)
	require.NoError(t, err)
	return recon, gw, logger
}

func TestNewReconciler(t *testing.T) {
	_, err := NewReconciler(nil, newLoggerFake())
	assert.Error(t, err)
	_, err = NewReconciler(newGatewayFake(), nil)
	assert.Error(t, err)
}

func TestReconciler_OnUserCreated(t *testing.T) {
	tests := []struct {
		name  string
		types []Type
	}{
		{name: "no types"},
		{name: "one type", types: []Type{TypeStudent}},
		{name: "two types", types: []Type{TypeTeacher, TypeStudent}},
		{name: "all types", types: AllTypes},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			recon, gw, logger := newTestReconciler(t)
			usr := User{ID: "u1", Username: "alice", Types: tt.types}

			require.NoError(t, recon.OnUserCreated(context.Background(), usr))

			assert.Len(t, gw.profiles, 1)
			assert.Equal(t, tt.types, gw.activeTypes(usr.ID))
			assert.Len(t, gw.exts[usr.ID], len(tt.types))
			assert.Zero(t, logger.counts["error"])
		})
	}
}

func TestReconciler_OnUserCreated_EveryTypeSet(t *testing.T) {
	for mask := 0; mask < 1<<len(AllTypes); mask++ {
		var types []Type
		for i, typ := range AllTypes {
			if mask&(1<<i) != 0 {
				types = append(types, typ)
			}
		}
		recon, gw, _ := newTestReconciler(t)
		usr := User{ID: "u1", Types: types}

		require.NoError(t, recon.OnUserCreated(context.Background(), usr), "types %v", types)
		assert.Equal(t, types, gw.activeTypes(usr.ID), "types %v", types)
		assert.Len(t, gw.exts[usr.ID], len(types), "types %v", types)
		assert.Len(t, gw.profiles, 1, "types %v", types)
	}
}

func TestReconciler_KeptTypesAreNotTouched(t *testing.T) {
	ctx := context.Background()
	recon, gw, _ := newTestReconciler(t)
	usr := User{ID: "u1", Types: []Type{TypeTeacher, TypeGuardian}}
	require.NoError(t, recon.OnUserCreated(ctx, usr))
	gw.calls = nil

	require.NoError(t, recon.OnUserTypesChanged(ctx, usr, usr.Types, []Type{TypeGuardian, TypeEmployee}))
	assert.Equal(t, []string{"UpsertExtension:employee", "GetExtension:teacher", "SaveExtension:teacher"}, gw.calls)
	assert.Equal(t, []Type{TypeGuardian, TypeEmployee}, gw.activeTypes(usr.ID))
}

func TestReconciler_OnUserTypesChanged(t *testing.T) {
	ctx := context.Background()
	recon, gw, _ := newTestReconciler(t)
	usr := User{ID: "u1", Username: "alice", Types: []Type{TypeTeacher, TypeStudent}}
	require.NoError(t, recon.OnUserCreated(ctx, usr))
	teacherID := gw.exts[usr.ID][TypeTeacher].ID

	steps := []struct {
		name       string
		types      []Type
		wantActive []Type
		wantTotal  int
	}{
		{name: "add guardian, remove teacher", types: []Type{TypeStudent, TypeGuardian}, wantActive: []Type{TypeStudent, TypeGuardian}, wantTotal: 3},
		{name: "remove everything", types: nil, wantTotal: 3},
		{name: "add teacher back", types: []Type{TypeTeacher}, wantActive: []Type{TypeTeacher}, wantTotal: 3},
		{name: "add employee", types: []Type{TypeTeacher, TypeEmployee}, wantActive: []Type{TypeTeacher, TypeEmployee}, wantTotal: 4},
	}
	prev := usr.Types
	for _, step := range steps {
		require.NoError(t, recon.OnUserTypesChanged(ctx, usr, prev, step.types), step.name)
		assert.Equal(t, step.wantActive, gw.activeTypes(usr.ID), step.name)
		assert.Len(t, gw.exts[usr.ID], step.wantTotal, step.name)
		prev = step.types
	}
	assert.Equal(t, teacherID, gw.exts[usr.ID][TypeTeacher].ID, "reactivated extension must be the same row")
	assert.Len(t, gw.profiles, 1)
}

func TestReconciler_GuardianRoundTrip(t *testing.T) {
	ctx := context.Background()
	recon, gw, _ := newTestReconciler(t)
	usr := User{ID: "u1", Username: "alice"}
	require.NoError(t, recon.OnUserCreated(ctx, usr))

	require.NoError(t, recon.OnUserTypesChanged(ctx, usr, nil, []Type{TypeGuardian}))
	ext := gw.exts[usr.ID][TypeGuardian]
	require.True(t, ext.IsActive)

	require.NoError(t, recon.OnUserTypesChanged(ctx, usr, []Type{TypeGuardian}, nil))
	assert.False(t, gw.exts[usr.ID][TypeGuardian].IsActive)

	require.NoError(t, recon.OnUserTypesChanged(ctx, usr, nil, []Type{TypeGuardian}))
	assert.True(t, gw.exts[usr.ID][TypeGuardian].IsActive)
	assert.Equal(t, ext.ID, gw.exts[usr.ID][TypeGuardian].ID)
	assert.Len(t, gw.exts[usr.ID], 1)
}

func TestReconciler_UnchangedTypes(t *testing.T) {
	recon, gw, _ := newTestReconciler(t)
	usr := User{ID: "u1", Types: []Type{TypeStudent, TypeTeacher}}

	require.NoError(t, recon.OnUserTypesChanged(context.Background(), usr, []Type{TypeTeacher, TypeStudent}, usr.Types))
	assert.Empty(t, gw.calls)
}

func TestReconciler_DeactivateMissingExtension(t *testing.T) {
	recon, gw, logger := newTestReconciler(t)
	usr := User{ID: "u1"}

	require.NoError(t, recon.OnUserTypesChanged(context.Background(), usr, []Type{TypeEmployee}, nil))
	assert.Equal(t, []string{"GetExtension:employee"}, gw.calls)
	assert.Empty(t, gw.exts[usr.ID])
	assert.Equal(t, 1, logger.counts["debug"])
	assert.Zero(t, logger.counts["error"])
}

func TestReconciler_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")

	t.Run("create", func(t *testing.T) {
		recon, gw, logger := newTestReconciler(t)
		gw.failOn("CreateExtension", errBoom, TypeTeacher)
		usr := User{ID: "u1", Types: []Type{TypeController, TypeTeacher, TypeStudent}}

		err := recon.OnUserCreated(ctx, usr)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errBoom))

		var merr *multierror.Error
		require.True(t, errors.As(err, &merr))
		assert.Len(t, merr.Errors, 1)
		assert.Equal(t, []Type{TypeController, TypeStudent}, gw.activeTypes(usr.ID))
		assert.Len(t, gw.profiles, 1)
		assert.Equal(t, 1, logger.counts["error"])
	})

	t.Run("profile failure does not stop extensions", func(t *testing.T) {
		recon, gw, logger := newTestReconciler(t)
		gw.failOn("CreateProfile", errBoom)
		usr := User{ID: "u1", Types: []Type{TypeGuardian}}

		err := recon.OnUserCreated(ctx, usr)
		assert.True(t, errors.Is(err, errBoom))
		assert.Empty(t, gw.profiles)
		assert.Equal(t, []Type{TypeGuardian}, gw.activeTypes(usr.ID))
		assert.Equal(t, 1, logger.counts["error"])
	})

	t.Run("every failure is reported", func(t *testing.T) {
		recon, gw, logger := newTestReconciler(t)
		usr := User{ID: "u1", Types: []Type{TypeTeacher, TypeStudent}}
		require.NoError(t, recon.OnUserCreated(ctx, usr))

		errUpsert, errSave := errors.New("upsert failed"), errors.New("save failed")
		gw.failOn("UpsertExtension", errUpsert, TypeGuardian)
		gw.failOn("SaveExtension", errSave, TypeTeacher)

		err := recon.OnUserTypesChanged(ctx, usr, usr.Types, []Type{TypeStudent, TypeGuardian, TypeEmployee, TypeController})
		var merr *multierror.Error
		require.True(t, errors.As(err, &merr))
		require.Len(t, merr.Errors, 2)
		assert.True(t, errors.Is(merr.Errors[0], errUpsert))
		assert.True(t, errors.Is(merr.Errors[1], errSave))
		assert.Equal(t, 2, logger.counts["error"])

		// the operations that did not fail went through
		assert.Equal(t, []Type{TypeController, TypeTeacher, TypeStudent, TypeEmployee}, gw.activeTypes(usr.ID))
	})
}

func TestReconciler_FailureLogs(t *testing.T) {
	recon, gw, logger := newTestReconciler(t)
	errBoom := errors.New("boom")
	gw.failOn("CreateProfile", errBoom)
	gw.failOn("CreateExtension", errBoom, TypeTeacher)
	usr := User{ID: "u1", Types: []Type{TypeTeacher}}

	require.Error(t, recon.OnUserCreated(context.Background(), usr))
	require.Len(t, logger.errors, 2)

	assert.Equal(t, "creating profile: boom", logger.errors[0].msg)
	assert.Equal(t, map[string]interface{}{"user_id": "u1"}, logger.errors[0].fields)

	assert.Equal(t, "creating extension Teacher: boom", logger.errors[1].msg)
	assert.Equal(t, map[string]interface{}{"user_id": "u1", "type": "teacher"}, logger.errors[1].fields)
}

func TestReconciler_RetriedAdd(t *testing.T) {
	ctx := context.Background()
	recon, gw, logger := newTestReconciler(t)
	usr := User{ID: "u1", Types: []Type{TypeStudent}}
	require.NoError(t, recon.OnUserCreated(ctx, usr))

	curr := []Type{TypeStudent, TypeTeacher}
	require.NoError(t, recon.OnUserTypesChanged(ctx, usr, usr.Types, curr))
	first := gw.exts[usr.ID][TypeTeacher]

	// the same change applied again, as a retry would
	require.NoError(t, recon.OnUserTypesChanged(ctx, usr, usr.Types, curr))
	again := gw.exts[usr.ID][TypeTeacher]

	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.IsActive)
	assert.Len(t, gw.exts[usr.ID], 2)
	assert.Equal(t, []Type{TypeTeacher, TypeStudent}, gw.activeTypes(usr.ID))
	assert.Zero(t, logger.counts["error"])
}

func TestReconciler_CallOrder(t *testing.T) {
	recon, gw, _ := newTestReconciler(t)
	usr := User{ID: "u1", Types: []Type{TypeStudent, TypeController}}
	require.NoError(t, recon.OnUserCreated(context.Background(), usr))

	// types are handled as given; NormalizeTypes is the caller's job
	want := []string{"CreateProfile"}
	for _, typ := range usr.Types {
		want = append(want, fmt.Sprintf("CreateExtension:%s", typ.Slug()))
	}
	assert.Equal(t, want, gw.calls)
}
