package server

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/pubsub"
	"github.com/zjrosen/beanserver/internal/registry"
)

// === Test Types ===

type pool struct {
	size   int
	active bool
}

func (p *pool) GetSize() int   { return p.size }
func (p *pool) SetSize(n int)  { p.size = n }
func (p *pool) IsActive() bool { return p.active }
func (p *pool) Drain() int     { n := p.size; p.size = 0; return n }

type invalidBean struct{}

func (invalidBean) GetMode() string { return "" }
func (invalidBean) IsMode() bool    { return false }

type brokenInterfaceBean struct{}

func (brokenInterfaceBean) GetMode() string { return "" }
func (brokenInterfaceBean) ManagementInterface() reflect.Type {
	var m map[string]reflect.Type
	m["mode"] = nil
	return nil
}

type lifecycleBean struct {
	mu         sync.Mutex
	rename     string
	preErr     error
	vetoRemove error
	registered []bool
	removed    int
}

func (l *lifecycleBean) GetRemoved() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removed
}

func (l *lifecycleBean) PreRegister(name objname.Name) (objname.Name, error) {
	if l.preErr != nil {
		return objname.Name{}, l.preErr
	}
	if l.rename != "" {
		return objname.Parse(l.rename)
	}
	return objname.Name{}, nil
}

func (l *lifecycleBean) PostRegister(registered bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered = append(l.registered, registered)
}

func (l *lifecycleBean) PreDeregister() error { return l.vetoRemove }

func (l *lifecycleBean) PostDeregister() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed++
}

type mockPredicate struct {
	mock.Mock
}

func (m *mockPredicate) Match(ctx context.Context, name objname.Name) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func named(canonical string) any {
	return mock.MatchedBy(func(n objname.Name) bool { return n.Canonical() == canonical })
}

func newServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func canonicals(names []objname.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.Canonical()
	}
	sort.Strings(out)
	return out
}

// === Unit Tests: Delegate ===

func TestNew_RegistersDelegate(t *testing.T) {
	s := newServer(t, WithVersion("1.2.3"))

	require.Equal(t, 1, s.Count())
	require.True(t, s.IsRegistered(DelegateName))
	require.Equal(t, []string{registry.DefaultDomain, registry.ReservedDomain}, s.Domains())

	id, err := s.GetAttribute(context.Background(), DelegateName, "ServerID")
	require.NoError(t, err)
	require.Equal(t, s.ID(), id)

	version, err := s.GetAttribute(context.Background(), DelegateName, "ImplementationVersion")
	require.NoError(t, err)
	require.Equal(t, "1.2.3", version)

	desc, err := s.GetDescriptor(context.Background(), DelegateName)
	require.NoError(t, err)
	require.Len(t, desc.Notifications, 1)
	require.NotEmpty(t, desc.Description)

	dropped, err := s.GetAttribute(context.Background(), DelegateName, "DroppedNotifications")
	require.NoError(t, err)
	require.Equal(t, uint64(0), dropped)
}

func TestReservedDomain(t *testing.T) {
	s := newServer(t)

	_, err := s.Register(context.Background(), &pool{}, objname.MustParse("Implementation:type=Other"))
	require.ErrorIs(t, err, faults.ErrInvalidName)

	err = s.Unregister(context.Background(), DelegateName)
	require.ErrorIs(t, err, faults.ErrInvalidName)
	require.True(t, s.IsRegistered(DelegateName))
}

// === Unit Tests: Register ===

func TestRegister_DefaultDomain(t *testing.T) {
	s := newServer(t, WithDefaultDomain("app"))

	inst, err := s.Register(context.Background(), &pool{size: 4}, objname.MustParse(":type=Pool"))
	require.NoError(t, err)
	require.Equal(t, "app:type=Pool", inst.Name.Canonical())
	require.Equal(t, "*server.pool", inst.ClassName)

	size, err := s.GetAttribute(context.Background(), objname.MustParse("app:type=Pool"), "Size")
	require.NoError(t, err)
	require.Equal(t, 4, size)
}

func TestRegister_Duplicate(t *testing.T) {
	s := newServer(t)
	name := objname.MustParse("app:type=Pool")

	_, err := s.Register(context.Background(), &pool{}, name)
	require.NoError(t, err)

	bean := &lifecycleBean{}
	_, err = s.Register(context.Background(), bean, name)
	require.ErrorIs(t, err, faults.ErrAlreadyExists)
	require.Equal(t, []bool{false}, bean.registered)
	require.Equal(t, 2, s.Count())
}

func TestRegister_NotCompliant(t *testing.T) {
	s := newServer(t)

	_, err := s.Register(context.Background(), invalidBean{}, objname.MustParse("app:type=Invalid"))
	require.ErrorIs(t, err, faults.ErrNotCompliant)
	require.Equal(t, 1, s.Count())
}

func TestRegister_NotCompliantWithMerge(t *testing.T) {
	s := newServer(t, WithMergeDuplicateAccessors(true))

	_, err := s.Register(context.Background(), invalidBean{}, objname.MustParse("app:type=Invalid"))
	require.ErrorIs(t, err, faults.ErrNotCompliant)
}

func TestRegister_PanickingManagementInterface(t *testing.T) {
	s := newServer(t)

	require.NotPanics(t, func() {
		_, err := s.Register(context.Background(), brokenInterfaceBean{}, objname.MustParse("app:type=Broken"))
		require.ErrorIs(t, err, faults.ErrManagedUnchecked)
	})
	require.False(t, s.IsRegistered(objname.MustParse("app:type=Broken")))
	require.Equal(t, 1, s.Count())
}

func TestRegister_Rename(t *testing.T) {
	s := newServer(t)
	bean := &lifecycleBean{rename: "app:type=Renamed"}

	inst, err := s.Register(context.Background(), bean, objname.MustParse("app:type=Asked"))
	require.NoError(t, err)
	require.Equal(t, "app:type=Renamed", inst.Name.Canonical())
	require.False(t, s.IsRegistered(objname.MustParse("app:type=Asked")))
	require.Equal(t, []bool{true}, bean.registered)
}

func TestRegister_PreRegisterSuppliesName(t *testing.T) {
	s := newServer(t)

	inst, err := s.Register(context.Background(), &lifecycleBean{rename: "app:type=Self"}, objname.Name{})
	require.NoError(t, err)
	require.Equal(t, "app:type=Self", inst.Name.Canonical())

	_, err = s.Register(context.Background(), &pool{}, objname.Name{})
	require.ErrorIs(t, err, faults.ErrInvalidArgument)
}

func TestRegister_Veto(t *testing.T) {
	s := newServer(t)
	bean := &lifecycleBean{preErr: errors.New("no")}

	_, err := s.Register(context.Background(), bean, objname.MustParse("app:type=Vetoed"))
	require.ErrorIs(t, err, faults.ErrManagedChecked)
	require.False(t, s.IsRegistered(objname.MustParse("app:type=Vetoed")))
	require.Empty(t, bean.registered)
}

func TestRegister_Pattern(t *testing.T) {
	s := newServer(t)

	_, err := s.Register(context.Background(), &pool{}, objname.MustParse("app:type=Pool,*"))
	require.ErrorIs(t, err, faults.ErrInvalidName)
}

// === Unit Tests: Unregister ===

func TestUnregister(t *testing.T) {
	s := newServer(t)
	name := objname.MustParse("d:k=1")
	bean := &lifecycleBean{}

	_, err := s.Register(context.Background(), bean, name)
	require.NoError(t, err)
	require.Contains(t, s.Domains(), "d")

	require.NoError(t, s.Unregister(context.Background(), name))
	require.False(t, s.IsRegistered(name))
	require.NotContains(t, s.Domains(), "d")
	require.Equal(t, 1, bean.GetRemoved())

	err = s.Unregister(context.Background(), name)
	require.ErrorIs(t, err, faults.ErrNotFound)
}

func TestUnregister_Veto(t *testing.T) {
	s := newServer(t)
	name := objname.MustParse("app:type=Busy")
	bean := &lifecycleBean{vetoRemove: errors.New("busy")}

	_, err := s.Register(context.Background(), bean, name)
	require.NoError(t, err)

	err = s.Unregister(context.Background(), name)
	require.ErrorIs(t, err, faults.ErrManagedChecked)
	require.True(t, s.IsRegistered(name))
	require.Zero(t, bean.GetRemoved())
}

func TestUnregister_ConcurrentCallersSerialised(t *testing.T) {
	s := newServer(t)
	name := objname.MustParse("app:type=Shared")
	bean := &lifecycleBean{}

	_, err := s.Register(context.Background(), bean, name)
	require.NoError(t, err)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Unregister(context.Background(), name)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, faults.ErrNotFound)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, bean.GetRemoved())
	require.Zero(t, s.locks.len())
}

// === Unit Tests: Notifications ===

func TestSubscribe_ReceivesRegistrationEvents(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notes := s.Subscribe(ctx)
	name := objname.MustParse("app:type=Pool")

	_, err := s.Register(context.Background(), &pool{}, name)
	require.NoError(t, err)
	require.NoError(t, s.Unregister(context.Background(), name))

	var got []Notification
	for len(got) < 2 {
		select {
		case n := <-notes:
			got = append(got, n)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notifications")
		}
	}

	require.Equal(t, pubsub.RegisteredEvent, got[0].Type)
	require.Equal(t, pubsub.UnregisteredEvent, got[1].Type)
	require.Less(t, got[0].Sequence, got[1].Sequence)
	require.Equal(t, "app:type=Pool", got[0].Name.Canonical())
	require.Equal(t, s.ID(), got[1].Source)
}

func TestSubscribe_FiltersByType(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	removals := s.Subscribe(ctx, pubsub.UnregisteredEvent)
	name := objname.MustParse("app:type=Pool")

	_, err := s.Register(context.Background(), &pool{}, name)
	require.NoError(t, err)
	require.NoError(t, s.Unregister(context.Background(), name))

	select {
	case n := <-removals:
		require.Equal(t, pubsub.UnregisteredEvent, n.Type)
		require.Equal(t, "app:type=Pool", n.Name.Canonical())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSubscribe_ClosesWithContext(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	notes := s.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-notes:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

// === Unit Tests: Queries ===

func registerPools(t *testing.T, s *Server) {
	t.Helper()
	for _, n := range []string{"app:type=Pool,name=a", "app:type=Pool,name=b", "app:type=Cache", "db:type=Pool,name=c"} {
		_, err := s.Register(context.Background(), &pool{size: len(n)}, objname.MustParse(n))
		require.NoError(t, err)
	}
}

func TestQueryNames(t *testing.T) {
	s := newServer(t)
	registerPools(t, s)

	all, err := s.QueryNames(context.Background(), objname.Name{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 5)

	pools, err := s.QueryNames(context.Background(), objname.MustParse("*:type=Pool,*"), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"app:name=a,type=Pool", "app:name=b,type=Pool", "db:name=c,type=Pool"}, canonicals(pools))

	exact, err := s.QueryMBeans(context.Background(), objname.MustParse("app:type=Cache"), nil)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	require.Equal(t, "*server.pool", exact[0].ClassName)
}

func TestQueryNames_PredicateFailuresExclude(t *testing.T) {
	s := newServer(t)
	registerPools(t, s)

	pred := &mockPredicate{}
	pred.On("Match", mock.Anything, named("app:name=a,type=Pool")).Return(true, nil)
	pred.On("Match", mock.Anything, named("app:name=b,type=Pool")).Return(false, errors.New("cannot evaluate"))

	names, err := s.QueryNames(context.Background(), objname.MustParse("app:type=Pool,*"), pred)
	require.NoError(t, err)
	require.Equal(t, []string{"app:name=a,type=Pool"}, canonicals(names))
	pred.AssertNumberOfCalls(t, "Match", 2)
}

func TestQueryNames_PredicatePanicExcludes(t *testing.T) {
	s := newServer(t)
	registerPools(t, s)

	pred := PredicateFunc(func(ctx context.Context, name objname.Name) (bool, error) {
		if v, _ := name.Property("name"); v == "b" {
			panic("bad predicate")
		}
		return true, nil
	})

	names, err := s.QueryNames(context.Background(), objname.MustParse("app:type=Pool,*"), pred)
	require.NoError(t, err)
	require.Equal(t, []string{"app:name=a,type=Pool"}, canonicals(names))
}

func TestAttributeEquals(t *testing.T) {
	s := newServer(t)
	_, err := s.Register(context.Background(), &pool{active: true}, objname.MustParse("app:type=Pool,name=on"))
	require.NoError(t, err)
	_, err = s.Register(context.Background(), &pool{}, objname.MustParse("app:type=Pool,name=off"))
	require.NoError(t, err)

	names, err := s.QueryNames(context.Background(), objname.MustParse("*:*"), s.AttributeEquals("Active", true))
	require.NoError(t, err)
	require.Equal(t, []string{"app:name=on,type=Pool"}, canonicals(names))
}

// === Unit Tests: Dispatch By Name ===

func TestDispatchByName(t *testing.T) {
	s := newServer(t, WithInvokeGetters(false))
	name := objname.MustParse("app:type=Pool")
	p := &pool{size: 3}

	_, err := s.Register(context.Background(), p, name)
	require.NoError(t, err)

	require.NoError(t, s.SetAttribute(context.Background(), name, capability.Attribute{Name: "Size", Value: 9}))
	list, err := s.GetAttributes(context.Background(), name, []string{"Size", "Active", "Missing"})
	require.NoError(t, err)
	require.Equal(t, []string{"Size", "Active"}, list.Names())

	set, err := s.SetAttributes(context.Background(), name, capability.AttributeList{{Name: "Size", Value: 2}})
	require.NoError(t, err)
	require.Len(t, set, 1)

	res, err := s.Invoke(context.Background(), name, "Drain", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res)

	_, err = s.Invoke(context.Background(), name, "GetSize", nil, nil)
	require.ErrorIs(t, err, faults.ErrOperationNotFound)

	ok, err := s.IsInstanceOf(context.Background(), name, "server.pool")
	require.NoError(t, err)
	require.True(t, ok)

	inst, err := s.GetObjectInstance(context.Background(), name)
	require.NoError(t, err)
	require.Equal(t, "*server.pool", inst.ClassName)

	_, err = s.GetAttribute(context.Background(), objname.MustParse("app:type=Missing"), "Size")
	require.ErrorIs(t, err, faults.ErrNotFound)

	_, err = s.GetAttribute(context.Background(), objname.Name{}, "Size")
	require.ErrorIs(t, err, faults.ErrInvalidArgument)
}

// === Scenario Tests ===

func TestScenario_RegisterQueryRemove(t *testing.T) {
	s := newServer(t)
	name := objname.MustParse("d:k=1")

	_, err := s.Register(context.Background(), &pool{}, name)
	require.NoError(t, err)

	names, err := s.QueryNames(context.Background(), objname.MustParse("d:*"), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"d:k=1"}, canonicals(names))

	require.NoError(t, s.Unregister(context.Background(), name))
	require.NotContains(t, s.Domains(), "d")
	require.Contains(t, s.Domains(), s.DefaultDomain())
}
