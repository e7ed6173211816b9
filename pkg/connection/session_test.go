package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/events"
	"github.com/sigweihq/solwallet/pkg/poller"
	"github.com/sigweihq/solwallet/pkg/state"
	"github.com/sigweihq/solwallet/pkg/wallet"
	"github.com/sigweihq/solwallet/pkg/wallet/wallettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectWithEvents(t *testing.T, h *harness, addrs ...string) (*Session, *wallettest.Events, *wallettest.Wallet) {
	t.Helper()
	evs := &wallettest.Events{}
	w := wallettest.New("Phantom",
		wallettest.WithAccounts(addrs...),
		wallettest.WithFeature(constants.FeatureStandardEvents, evs),
	)
	session, err := h.manager.ConnectWallet(context.Background(), w, "wallet-standard:phantom", ConnectOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, evs.Listeners())
	h.eventTypes()
	return session, evs, w
}

func TestEmptyChangeEventDisconnects(t *testing.T) {
	h := newHarness(t)
	_, evs, _ := connectWithEvents(t, h, addresses(2)...)

	evs.Emit(wallet.ChangeEvent{Accounts: []wallet.Account{}})

	assert.Equal(t, state.StatusDisconnected, h.manager.Status().Kind)
	assert.Nil(t, h.manager.Session())
	assert.False(t, h.store.Snapshot().Connected)
	assert.Equal(t, []events.Type{events.WalletDisconnected}, h.eventTypes())
	assert.Zero(t, evs.Listeners())
}

func TestChangeEventWithoutAccountsIgnored(t *testing.T) {
	h := newHarness(t)
	_, evs, _ := connectWithEvents(t, h, addresses(1)...)

	evs.Emit(wallet.ChangeEvent{Chains: []string{constants.ChainDevnet}})

	assert.Equal(t, state.StatusConnected, h.manager.Status().Kind)
	assert.Empty(t, h.eventTypes())
}

func TestChangeEventUpdatesAccounts(t *testing.T) {
	tests := []struct {
		name         string
		next         func(addrs []string) []string
		wantSelected func(addrs []string) string
		wantEvent    bool
	}{
		{
			name:         "selected account kept",
			next:         func(a []string) []string { return []string{a[2], a[0]} },
			wantSelected: func(a []string) string { return a[0] },
		},
		{
			name:         "selected account removed",
			next:         func(a []string) []string { return []string{a[1], a[2]} },
			wantSelected: func(a []string) string { return a[1] },
			wantEvent:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			addrs := addresses(3)
			session, evs, _ := connectWithEvents(t, h, addrs[0], addrs[1])

			var mu sync.Mutex
			var seen [][]SessionAccount
			session.OnAccountsChanged(func(accounts []SessionAccount) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, accounts)
			})

			next := tt.next(addrs)
			evs.Emit(wallet.ChangeEvent{Accounts: wallettest.Accounts(next...)})

			want := tt.wantSelected(addrs)
			assert.Equal(t, want, session.Selected().Address)
			assert.Equal(t, want, h.store.Snapshot().SelectedAddress)
			assert.Len(t, h.store.Snapshot().Accounts, 2)

			mu.Lock()
			require.Len(t, seen, 1)
			assert.Equal(t, next[0], seen[0][0].Address)
			mu.Unlock()

			types := h.eventTypes()
			if tt.wantEvent {
				assert.Equal(t, []events.Type{events.AccountChanged}, types)
				ws, ok := h.states.Get()
				require.True(t, ok)
				assert.Equal(t, want, ws.LastAccount)
			} else {
				assert.Empty(t, types)
			}
		})
	}
}

func TestOnAccountsChangedUnsubscribe(t *testing.T) {
	h := newHarness(t)
	addrs := addresses(2)
	session, evs, _ := connectWithEvents(t, h, addrs[0])

	calls := 0
	unsubscribe := session.OnAccountsChanged(func([]SessionAccount) { calls++ })
	evs.Emit(wallet.ChangeEvent{Accounts: wallettest.Accounts(addrs...)})
	unsubscribe()
	evs.Emit(wallet.ChangeEvent{Accounts: wallettest.Accounts(addrs[1])})

	assert.Equal(t, 1, calls)
}

func TestStaleChangeEventIgnored(t *testing.T) {
	h := newHarness(t)
	addrs := addresses(2)
	_, oldEvents, _ := connectWithEvents(t, h, addrs[0])

	// a later connection replaces the first one
	newWallet := wallettest.New("Solflare", wallettest.WithAccounts(addrs[1]))
	_, err := h.manager.ConnectWallet(context.Background(), newWallet, "wallet-standard:solflare", ConnectOptions{})
	require.NoError(t, err)
	assert.Zero(t, oldEvents.Listeners())

	oldEvents.Emit(wallet.ChangeEvent{Accounts: []wallet.Account{}})
	assert.Equal(t, state.StatusConnected, h.manager.Status().Kind)
	assert.Equal(t, addrs[1], h.manager.Session().Selected().Address)
}

func TestEventSubscriptionFailureFallsBackToPolling(t *testing.T) {
	h := newHarness(t, poller.Options{Schedule: []time.Duration{2 * time.Millisecond}, MaxAttempts: 1000})
	addrs := addresses(3)
	w := wallettest.New("Phantom",
		wallettest.WithAccounts(addrs[0]),
		wallettest.WithFeature(constants.FeatureStandardEvents, &wallettest.Events{Err: errors.New("unsupported")}),
	)

	session, err := h.manager.ConnectWallet(context.Background(), w, "wallet-standard:phantom", ConnectOptions{})
	require.NoError(t, err)
	assert.Equal(t, addrs[0], session.Selected().Address)

	w.SetAccounts(addrs[1], addrs[2])
	require.Eventually(t, func() bool {
		return session.Selected().Address == addrs[1]
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return h.store.Snapshot().SelectedAddress == addrs[1]
	}, time.Second, time.Millisecond)
}

func TestPollingStopsOnDisconnect(t *testing.T) {
	h := newHarness(t, poller.Options{Schedule: []time.Duration{time.Millisecond}, MaxAttempts: 1000})
	w := wallettest.New("Phantom", wallettest.WithAccounts(addresses(1)...))

	_, err := h.manager.ConnectWallet(context.Background(), w, "wallet-standard:phantom", ConnectOptions{})
	require.NoError(t, err)

	h.manager.mu.Lock()
	task := h.manager.poll
	h.manager.mu.Unlock()
	require.NotNil(t, task)
	done := task.Done()

	h.manager.Disconnect(context.Background())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller still running after disconnect")
	}
	assert.False(t, task.Running())
}

func TestSelectAccount(t *testing.T) {
	h := newHarness(t)
	addrs := addresses(3)
	w := wallettest.New("Phantom", wallettest.WithAccounts(addrs[0], addrs[1]))
	session, err := h.manager.ConnectWallet(context.Background(), w, "wallet-standard:phantom", ConnectOptions{})
	require.NoError(t, err)
	h.eventTypes()

	require.NoError(t, session.SelectAccount(context.Background(), addrs[1]))
	assert.Equal(t, addrs[1], session.Selected().Address)
	assert.Equal(t, addrs[1], h.store.Snapshot().SelectedAddress)
	assert.Equal(t, []events.Type{events.AccountChanged}, h.eventTypes())
	ws, ok := h.states.Get()
	require.True(t, ok)
	assert.Equal(t, addrs[1], ws.LastAccount)

	// reselecting is a no-op
	require.NoError(t, session.SelectAccount(context.Background(), addrs[1]))
	assert.Empty(t, h.eventTypes())

	// an account unknown to the session is looked up through a silent connect
	w.SetAccounts(addrs...)
	require.NoError(t, h.manager.SelectAccount(context.Background(), addrs[2]))
	assert.Equal(t, addrs[2], session.Selected().Address)
	assert.Len(t, session.Accounts(), 3)
}

func TestSelectAccountErrors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t)
		err := h.manager.SelectAccount(context.Background(), addresses(1)[0])
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("invalid address", func(t *testing.T) {
		h := newHarness(t)
		err := h.manager.SelectAccount(context.Background(), "not-a-key")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid account address")
	})

	t.Run("unknown after refresh", func(t *testing.T) {
		h := newHarness(t)
		addrs := addresses(2)
		w := wallettest.New("Phantom", wallettest.WithAccounts(addrs[0]))
		_, err := h.manager.ConnectWallet(context.Background(), w, "wallet-standard:phantom", ConnectOptions{})
		require.NoError(t, err)

		err = h.manager.SelectAccount(context.Background(), addrs[1])
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.Equal(t, addrs[0], h.manager.Session().Selected().Address)
	})

	t.Run("refresh fails", func(t *testing.T) {
		h := newHarness(t)
		addrs := addresses(2)
		calls := 0
		w := wallettest.New("Phantom", wallettest.WithFeature(constants.FeatureStandardConnect, wallettest.ConnectFunc(
			func(context.Context, wallet.ConnectInput) (*wallet.ConnectOutput, error) {
				calls++
				if calls > 1 {
					return nil, errors.New("wallet locked")
				}
				return &wallet.ConnectOutput{Accounts: wallettest.Accounts(addrs[0])}, nil
			})))
		_, err := h.manager.ConnectWallet(context.Background(), w, "wallet-standard:phantom", ConnectOptions{})
		require.NoError(t, err)

		err = h.manager.SelectAccount(context.Background(), addrs[1])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wallet locked")
	})
}

func TestMergeAccounts(t *testing.T) {
	a := wallet.Account{Address: "A", Label: "first"}
	b := wallet.Account{Address: "B"}
	a2 := wallet.Account{Address: "A", Label: "second"}

	got := mergeAccounts([]wallet.Account{a, b}, []wallet.Account{{Address: ""}, a2})
	assert.Equal(t, []wallet.Account{a2, b}, got)
	assert.Empty(t, mergeAccounts(nil, nil))
}
