package dispatch

import (
	"context"
	"errors"
	"math"
	"reflect"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/capcache"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/introspect"
	"github.com/zjrosen/beanserver/internal/tracing"
)

// === Test Types ===

var errLimit = errors.New("limit service unavailable")

type audited struct{ audits int }

func (a *audited) GetAudits() int { return a.audits }

type account struct {
	audited
	mu      sync.Mutex
	balance int64
	owner   string
	frozen  bool
	pin     int
	notifs  []capability.NotificationInfo
}

func (a *account) GetBalance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

func (a *account) SetBalance(v int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = v
}

func (a *account) GetOwner() string       { return a.owner }
func (a *account) IsFrozen() bool         { return a.frozen }
func (a *account) SetFrozen(f bool)       { a.frozen = f }
func (a *account) SetPin(p int)           { a.pin = p }
func (a *account) GetLimit() (int, error) { return 0, errLimit }
func (a *account) Description() string    { return "a bank account" }

func (a *account) NotificationInfo() []capability.NotificationInfo { return a.notifs }

func (a *account) Deposit(n int64) (int64, error) {
	if n <= 0 {
		return 0, errors.New("deposit must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += n
	return a.balance, nil
}

func (a *account) Tag(labels ...string) int { return len(labels) }
func (a *account) Explode()                 { panic("kaboom") }
func (a *account) Fail() error              { return errors.New("refused") }

func (a *account) Crash() int64 {
	var other *account
	return other.balance
}

func (a *account) Abort() {
	panic(faults.Fatal(errors.New("ledger corrupted")))
}

type unreadable struct{}

func (unreadable) GetState() int { return 0 }
func (unreadable) IsState() bool { return false }

type Resettable interface {
	GetHits() int
	Reset()
}

type hitCounter struct{ hits int }

func (h *hitCounter) GetHits() int { return h.hits }
func (h *hitCounter) Reset()       { h.hits = 0 }
func (h *hitCounter) Hidden()                           {}
func (h *hitCounter) ManagementInterface() reflect.Type { return reflect.TypeOf((*Resettable)(nil)).Elem() }

// gauge has convention names whose shapes are not accessors.
type gauge struct{ level int }

func (*gauge) GetReady() error      { return nil }
func (*gauge) IsOpenCount() int     { return 3 }
func (g *gauge) SetLevel(n int) int { old := g.level; g.level = n; return old }

type Stateful interface {
	GetState() int
}

// lateInterface panics in ManagementInterface until ready is set.
type lateInterface struct{ ready bool }

func (l *lateInterface) GetState() int { return 7 }

func (l *lateInterface) ManagementInterface() reflect.Type {
	if !l.ready {
		panic("interface not loaded")
	}
	return reflect.TypeOf((*Stateful)(nil)).Elem()
}

type dynamicCounter struct {
	values  map[string]any
	desc    *capability.Descriptor
	notifs  []capability.NotificationInfo
	panicOn string
}

func newDynamicCounter() *dynamicCounter {
	return &dynamicCounter{
		values: map[string]any{"Count": 3},
		desc:   &capability.Descriptor{ClassName: "example.DynamicCounter"},
	}
}

func (d *dynamicCounter) GetAttribute(name string) (any, error) {
	if name == d.panicOn {
		panic(errors.New("boom"))
	}
	v, ok := d.values[name]
	if !ok {
		return nil, faults.New(faults.KindAttributeNotFound, "getAttribute", name, "unknown")
	}
	return v, nil
}

func (d *dynamicCounter) SetAttribute(attr capability.Attribute) error {
	d.values[attr.Name] = attr.Value
	return nil
}

func (d *dynamicCounter) GetAttributes(names []string) capability.AttributeList {
	var out capability.AttributeList
	for _, n := range names {
		if v, ok := d.values[n]; ok {
			out = append(out, capability.Attribute{Name: n, Value: v})
		}
	}
	return out
}

func (d *dynamicCounter) SetAttributes(attrs capability.AttributeList) capability.AttributeList {
	for _, a := range attrs {
		d.values[a.Name] = a.Value
	}
	return attrs
}

func (d *dynamicCounter) Invoke(op string, params []any, signature []string) (any, error) {
	switch op {
	case "reset":
		d.values["Count"] = 0
		return nil, nil
	case "overflow":
		var s []int
		return s[len(params)+1], nil
	case "abort":
		panic(faults.Fatal(errors.New("counter store lost")))
	}
	return nil, faults.New(faults.KindOperationNotFound, "invoke", op, "unknown")
}

func (d *dynamicCounter) Descriptor() *capability.Descriptor { return d.desc }

func (d *dynamicCounter) NotificationInfo() []capability.NotificationInfo { return d.notifs }

func newDispatcher(opts ...Option) *Dispatcher {
	return New(capcache.New(introspect.New(), capcache.DefaultConfig()), opts...)
}

// === Unit Tests: Reflective Attributes ===

func TestGetAttribute_Reflective(t *testing.T) {
	d := newDispatcher()
	acct := &account{balance: 10, owner: "ada"}

	v, err := d.GetAttribute(context.Background(), acct, "Balance")
	require.NoError(t, err)
	require.Equal(t, int64(10), v)

	v, err = d.GetAttribute(context.Background(), acct, "Frozen")
	require.NoError(t, err)
	require.Equal(t, false, v)

	v, err = d.GetAttribute(context.Background(), acct, "Audits")
	require.NoError(t, err)
	require.Equal(t, 0, v)
}

func TestGetAttribute_Missing(t *testing.T) {
	d := newDispatcher()

	_, err := d.GetAttribute(context.Background(), &account{}, "Nope")
	require.ErrorIs(t, err, faults.ErrAttributeNotFound)

	_, err = d.GetAttribute(context.Background(), &account{}, "Pin")
	require.ErrorIs(t, err, faults.ErrAttributeNotFound)
	require.Contains(t, err.Error(), "write-only")
}

func TestGetAttribute_GetterErrorIsChecked(t *testing.T) {
	d := newDispatcher()

	_, err := d.GetAttribute(context.Background(), &account{}, "Limit")
	require.ErrorIs(t, err, faults.ErrManagedChecked)
	require.ErrorIs(t, err, errLimit)
	require.True(t, faults.IsManaged(err))
}

func TestGetAttribute_NotCompliant(t *testing.T) {
	d := newDispatcher()

	_, err := d.GetAttribute(context.Background(), unreadable{}, "State")
	require.ErrorIs(t, err, faults.ErrNotCompliant)
}

func TestGetAttribute_NilObject(t *testing.T) {
	d := newDispatcher()

	_, err := d.GetAttribute(context.Background(), nil, "X")
	require.ErrorIs(t, err, faults.ErrInvalidArgument)
}

func TestSetAttribute_ConvertsValue(t *testing.T) {
	d := newDispatcher()
	acct := &account{}

	require.NoError(t, d.SetAttribute(context.Background(), acct, capability.Attribute{Name: "Balance", Value: 42}))
	require.Equal(t, int64(42), acct.GetBalance())

	require.NoError(t, d.SetAttribute(context.Background(), acct, capability.Attribute{Name: "Frozen", Value: true}))
	require.True(t, acct.IsFrozen())
}

func TestSetAttribute_InvalidValue(t *testing.T) {
	d := newDispatcher()
	acct := &account{balance: 5}

	err := d.SetAttribute(context.Background(), acct, capability.Attribute{Name: "Balance", Value: "lots"})
	require.ErrorIs(t, err, faults.ErrInvalidAttributeValue)

	err = d.SetAttribute(context.Background(), acct, capability.Attribute{Name: "Balance", Value: uint64(math.MaxUint64)})
	require.ErrorIs(t, err, faults.ErrInvalidAttributeValue)

	err = d.SetAttribute(context.Background(), acct, capability.Attribute{Name: "Balance", Value: nil})
	require.ErrorIs(t, err, faults.ErrInvalidAttributeValue)
	require.Equal(t, int64(5), acct.GetBalance())
}

func TestSetAttribute_ReadOnly(t *testing.T) {
	d := newDispatcher()

	err := d.SetAttribute(context.Background(), &account{}, capability.Attribute{Name: "Owner", Value: "bob"})
	require.ErrorIs(t, err, faults.ErrAttributeNotFound)
	require.Contains(t, err.Error(), "read-only")
}

// === Unit Tests: Batches ===

func TestGetAttributes_OmitsFailures(t *testing.T) {
	d := newDispatcher()
	acct := &account{balance: 9, owner: "ada"}

	list, err := d.GetAttributes(context.Background(), acct, []string{"Balance", "Missing", "Limit", "Owner"})
	require.NoError(t, err)
	require.Equal(t, []string{"Balance", "Owner"}, list.Names())

	owner, ok := list.Get("Owner")
	require.True(t, ok)
	require.Equal(t, "ada", owner)
}

func TestSetAttributes_OmitsFailures(t *testing.T) {
	d := newDispatcher()
	acct := &account{}

	list, err := d.SetAttributes(context.Background(), acct, capability.AttributeList{
		{Name: "Balance", Value: 7},
		{Name: "Owner", Value: "eve"},
		{Name: "Frozen", Value: true},
		{Name: "Frozen", Value: "yes"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Balance", "Frozen"}, list.Names())
	require.Equal(t, int64(7), acct.GetBalance())
	require.True(t, acct.IsFrozen())
}

func TestGetAttributes_NotCompliantFailsWhole(t *testing.T) {
	d := newDispatcher()

	_, err := d.GetAttributes(context.Background(), unreadable{}, []string{"State"})
	require.ErrorIs(t, err, faults.ErrNotCompliant)
}

// === Unit Tests: Invoke ===

func TestInvoke_Operation(t *testing.T) {
	d := newDispatcher()
	acct := &account{balance: 10}

	res, err := d.Invoke(context.Background(), acct, "Deposit", []any{5}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(15), res)

	res, err = d.Invoke(context.Background(), acct, "Deposit", []any{int64(1)}, []string{"int64"})
	require.NoError(t, err)
	require.Equal(t, int64(16), res)
}

func TestInvoke_Variadic(t *testing.T) {
	d := newDispatcher()

	res, err := d.Invoke(context.Background(), &account{}, "Tag", []any{"a", "b"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res)

	res, err = d.Invoke(context.Background(), &account{}, "Tag", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, res)

	res, err = d.Invoke(context.Background(), &account{}, "Tag", []any{[]string{"a", "b", "c"}}, []string{"[]string"})
	require.NoError(t, err)
	require.Equal(t, 3, res)
}

func TestInvoke_VoidReturnsNil(t *testing.T) {
	d := newDispatcher()

	res, err := d.Invoke(context.Background(), &account{}, "Fail", nil, nil)
	require.Nil(t, res)
	require.ErrorIs(t, err, faults.ErrManagedChecked)
	require.Equal(t, "refused", errors.Unwrap(err).Error())
}

func TestInvoke_FaultOrigins(t *testing.T) {
	d := newDispatcher()
	acct := &account{}

	_, err := d.Invoke(context.Background(), acct, "Deposit", []any{-1}, nil)
	require.ErrorIs(t, err, faults.ErrManagedChecked)

	_, err = d.Invoke(context.Background(), acct, "Explode", nil, nil)
	require.ErrorIs(t, err, faults.ErrManagedUnchecked)
	var pe *faults.PanicError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "kaboom", pe.Value)

	_, err = d.Invoke(context.Background(), acct, "Crash", nil, nil)
	require.ErrorIs(t, err, faults.ErrManagedUnchecked)
	var rerr runtime.Error
	require.ErrorAs(t, err, &rerr)

	_, err = d.Invoke(context.Background(), acct, "Abort", nil, nil)
	require.ErrorIs(t, err, faults.ErrManagedFatal)
	require.True(t, faults.IsManaged(err))
	require.ErrorContains(t, err, "ledger corrupted")
}

func TestInvoke_ResolutionFailures(t *testing.T) {
	d := newDispatcher()
	acct := &account{}

	_, err := d.Invoke(context.Background(), acct, "Withdraw", nil, nil)
	require.ErrorIs(t, err, faults.ErrOperationNotFound)

	_, err = d.Invoke(context.Background(), acct, "Deposit", []any{1, 2}, nil)
	require.ErrorIs(t, err, faults.ErrOperationNotFound)

	_, err = d.Invoke(context.Background(), acct, "Deposit", []any{"ten"}, nil)
	require.ErrorIs(t, err, faults.ErrReflectionFailure)
	require.False(t, faults.IsManaged(err))

	_, err = d.Invoke(context.Background(), acct, "Deposit", []any{1}, []string{"int64", "int64"})
	require.ErrorIs(t, err, faults.ErrReflectionFailure)
}

func TestInvoke_AccessorsRefusedByDefault(t *testing.T) {
	acct := &account{balance: 3}

	_, err := newDispatcher().Invoke(context.Background(), acct, "GetBalance", nil, nil)
	require.ErrorIs(t, err, faults.ErrOperationNotFound)

	_, err = newDispatcher().Invoke(context.Background(), acct, "SetBalance", []any{1}, nil)
	require.ErrorIs(t, err, faults.ErrOperationNotFound)

	d := newDispatcher(WithInvokeGetters(true))
	require.True(t, d.InvokeGetters())

	res, err := d.Invoke(context.Background(), acct, "GetBalance", nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), res)

	_, err = d.Invoke(context.Background(), acct, "SetBalance", []any{8}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(8), acct.GetBalance())
}

func TestInvoke_ConventionNamesWithOtherShapes(t *testing.T) {
	d := newDispatcher()
	g := &gauge{level: 2}

	desc, err := d.Describe(context.Background(), g)
	require.NoError(t, err)
	require.Empty(t, desc.Attributes)
	require.Len(t, desc.Operations, 3)

	res, err := d.Invoke(context.Background(), g, "GetReady", nil, nil)
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = d.Invoke(context.Background(), g, "IsOpenCount", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res)

	res, err = d.Invoke(context.Background(), g, "SetLevel", []any{5}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res)
	require.Equal(t, 5, g.level)
}

func TestInvoke_ManagementInterfaceHidesMethods(t *testing.T) {
	d := newDispatcher()
	hc := &hitCounter{hits: 4}

	_, err := d.Invoke(context.Background(), hc, "Reset", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, hc.hits)

	_, err = d.Invoke(context.Background(), hc, "Hidden", nil, nil)
	require.ErrorIs(t, err, faults.ErrOperationNotFound)
}

func TestDispatch_PanickingManagementInterface(t *testing.T) {
	d := newDispatcher()
	obj := &lateInterface{}

	require.NotPanics(t, func() {
		_, err := d.GetAttribute(context.Background(), obj, "State")
		require.ErrorIs(t, err, faults.ErrManagedUnchecked)
		require.ErrorContains(t, err, "interface not loaded")

		_, err = d.Describe(context.Background(), obj)
		require.ErrorIs(t, err, faults.ErrManagedUnchecked)
	})

	// The failure is not cached
	obj.ready = true
	v, err := d.GetAttribute(context.Background(), obj, "State")
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

// === Unit Tests: Direct Mode ===

func TestDirect_PassesErrorsThrough(t *testing.T) {
	d := newDispatcher()
	dyn := newDynamicCounter()

	v, err := d.GetAttribute(context.Background(), dyn, "Count")
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = d.GetAttribute(context.Background(), dyn, "Missing")
	require.ErrorIs(t, err, faults.ErrAttributeNotFound)
	require.False(t, faults.IsManaged(err))

	require.NoError(t, d.SetAttribute(context.Background(), dyn, capability.Attribute{Name: "Count", Value: 9}))
	require.Equal(t, 9, dyn.values["Count"])

	_, err = d.Invoke(context.Background(), dyn, "reset", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, dyn.values["Count"])
}

func TestDirect_WrapsPanics(t *testing.T) {
	d := newDispatcher()
	dyn := newDynamicCounter()
	dyn.panicOn = "Count"

	_, err := d.GetAttribute(context.Background(), dyn, "Count")
	require.ErrorIs(t, err, faults.ErrManagedUnchecked)
	require.EqualError(t, errors.Unwrap(err), "boom")

	_, err = d.Invoke(context.Background(), dyn, "overflow", nil, nil)
	require.ErrorIs(t, err, faults.ErrManagedUnchecked)

	_, err = d.Invoke(context.Background(), dyn, "abort", nil, nil)
	require.ErrorIs(t, err, faults.ErrManagedFatal)
}

func TestDirect_Batches(t *testing.T) {
	d := newDispatcher()
	dyn := newDynamicCounter()

	list, err := d.GetAttributes(context.Background(), dyn, []string{"Count", "Missing"})
	require.NoError(t, err)
	require.Equal(t, []string{"Count"}, list.Names())

	set, err := d.SetAttributes(context.Background(), dyn, capability.AttributeList{{Name: "Size", Value: 1}})
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.Equal(t, 1, dyn.values["Size"])
}

// === Unit Tests: Describe and Compliance ===

func TestDescribe_AttachesInstanceData(t *testing.T) {
	d := newDispatcher()
	acct := &account{notifs: []capability.NotificationInfo{
		{Name: "balance", Types: []string{"account.overdrawn"}},
	}}

	desc, err := d.Describe(context.Background(), acct)
	require.NoError(t, err)
	require.Equal(t, "*dispatch.account", desc.ClassName)
	require.Equal(t, "a bank account", desc.Description)
	require.Len(t, desc.Notifications, 1)

	desc.Notifications[0].Types[0] = "mutated"
	require.Equal(t, "account.overdrawn", acct.notifs[0].Types[0])

	model, err := d.Cache().ModelFor(context.Background(), acct)
	require.NoError(t, err)
	require.Empty(t, model.Descriptor().Notifications)
	require.Empty(t, model.Descriptor().Description)
}

func TestDescribe_ReflectsLateConstructors(t *testing.T) {
	d := newDispatcher()
	acct := &account{}

	desc, err := d.Describe(context.Background(), acct)
	require.NoError(t, err)
	require.Empty(t, desc.Constructors)

	require.NoError(t, d.Cache().Introspector().RegisterConstructor(func() *account { return &account{} }))

	desc, err = d.Describe(context.Background(), acct)
	require.NoError(t, err)
	require.Len(t, desc.Constructors, 1)

	model, err := d.Cache().ModelFor(context.Background(), acct)
	require.NoError(t, err)
	require.Empty(t, model.Descriptor().Constructors)
}

func TestDescribe_Dynamic(t *testing.T) {
	d := newDispatcher()
	dyn := newDynamicCounter()
	dyn.notifs = []capability.NotificationInfo{{Name: "count", Types: []string{"count.changed"}}}

	desc, err := d.Describe(context.Background(), dyn)
	require.NoError(t, err)
	require.Equal(t, "example.DynamicCounter", desc.ClassName)
	require.Equal(t, dyn.notifs, desc.Notifications)
	require.NotSame(t, &dyn.notifs[0], &desc.Notifications[0])
}

func TestCheckCompliance(t *testing.T) {
	d := newDispatcher()

	require.NoError(t, d.CheckCompliance(context.Background(), &account{}))
	require.NoError(t, d.CheckCompliance(context.Background(), newDynamicCounter()))
	require.ErrorIs(t, d.CheckCompliance(context.Background(), unreadable{}), faults.ErrNotCompliant)
	require.ErrorIs(t, d.CheckCompliance(context.Background(), nil), faults.ErrInvalidArgument)

	missing := newDynamicCounter()
	missing.desc = nil
	require.ErrorIs(t, d.CheckCompliance(context.Background(), missing), faults.ErrNotCompliant)
}

func TestIsInstanceOf(t *testing.T) {
	d := newDispatcher()
	ctx := context.Background()

	tests := []struct {
		name string
		obj  any
		typ  string
		want bool
	}{
		{name: "pointer type", obj: &account{}, typ: "*dispatch.account", want: true},
		{name: "element type", obj: &account{}, typ: "dispatch.account", want: true},
		{name: "embedded type", obj: &account{}, typ: "dispatch.audited", want: true},
		{name: "unrelated type", obj: &account{}, typ: "dispatch.hitCounter", want: false},
		{name: "management interface", obj: &hitCounter{}, typ: "dispatch.Resettable", want: true},
		{name: "self-described class", obj: newDynamicCounter(), typ: "example.DynamicCounter", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.IsInstanceOf(ctx, tt.obj, tt.typ)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

// === Unit Tests: Tracing ===

func TestDispatcher_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	d := newDispatcher(WithTracer(tp.Tracer("test")))
	_, err := d.GetAttribute(context.Background(), &account{}, "Missing")
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, tracing.SpanPrefix+tracing.OpGetAttribute, spans[0].Name)

	var kind string
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == tracing.AttrFaultKind {
			kind = kv.Value.AsString()
		}
	}
	require.Equal(t, string(faults.KindAttributeNotFound), kind)
}

// === Concurrency Tests ===

func TestDispatcher_ConcurrentDeposits(t *testing.T) {
	d := newDispatcher()
	acct := &account{}

	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Invoke(context.Background(), acct, "Deposit", []any{1}, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(workers), acct.GetBalance())
}
