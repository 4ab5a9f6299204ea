package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/forkline/pkg/adapters/memory"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_ForkLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := memory.NewService()
	svc.AddIdentity("ghp_alpha", "alpha")
	svc.AddRepo("origin/project")
	svc.AddTrigger("origin/project", ".github/workflows/nexus.yml", true)
	svc.SetReadyDelay(2)

	remote, err := svc.Connect(domain.Identity{Token: "ghp_alpha"}, nil)
	require.NoError(t, err)

	repo, err := remote.CreateFork(ctx, "origin/project")
	require.NoError(t, err)
	assert.Equal(t, "alpha/project", repo)

	for i := 0; i < 2; i++ {
		ok, err := remote.RepoExists(ctx, repo)
		require.NoError(t, err)
		assert.False(t, ok, "fork should not be ready yet")
	}
	ok, err := remote.RepoExists(ctx, repo)
	require.NoError(t, err)
	assert.True(t, ok)

	id, found, err := remote.AutomationTriggerID(ctx, repo, "nexus.yml")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, svc.TriggerEnabled(repo), "forks start with automation disabled")

	require.NoError(t, remote.EnableAutomation(ctx, repo, id))
	assert.True(t, svc.TriggerEnabled(repo))

	require.NoError(t, remote.DeleteRepo(ctx, repo))
	assert.False(t, svc.Exists(repo))
}

func TestService_FailNext(t *testing.T) {
	ctx := context.Background()
	svc := memory.NewService()
	svc.AddIdentity("ghp_alpha", "alpha")
	boom := errors.New("boom")
	svc.FailNext(memory.OpUsername, boom)

	remote, err := svc.Connect(domain.Identity{Token: "ghp_alpha"}, nil)
	require.NoError(t, err)

	_, err = remote.Username(ctx)
	assert.ErrorIs(t, err, boom)

	login, err := remote.Username(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", login)
	assert.Equal(t, 2, svc.Calls(memory.OpUsername))
}

func TestService_UnknownTokenIsRejected(t *testing.T) {
	svc := memory.NewService()
	binding := &domain.ProxyBinding{Scheme: "http", Host: "10.0.0.1", Port: 8080}

	remote, err := svc.Connect(domain.Identity{Token: "ghp_unknown_token_value"}, binding)
	require.NoError(t, err)

	_, err = remote.Username(context.Background())
	assert.ErrorIs(t, err, memory.ErrBadCredentials)
	assert.NotContains(t, err.Error(), "ghp_unknown_token_value")
	assert.Equal(t, binding, svc.BindingFor("ghp_unknown_token_value"))
}

func TestService_Secrets(t *testing.T) {
	ctx := context.Background()
	svc := memory.NewService()
	svc.AddIdentity("ghp_alpha", "alpha")
	svc.AddRepo("alpha/project")
	svc.SetSecretDelay(1)

	remote, err := svc.Connect(domain.Identity{Token: "ghp_alpha"}, nil)
	require.NoError(t, err)

	key, err := remote.RepoPublicKey(ctx, "alpha/project")
	require.NoError(t, err)
	assert.Equal(t, memory.PublicKeyOf("alpha/project"), key)

	err = remote.SetSecret(ctx, "alpha/project", "NEXUS_WALLETS", domain.SealedSecret{KeyID: "stale", EncryptedValue: "x"})
	require.Error(t, err, "secrets sealed for another key are rejected")

	sealed := domain.SealedSecret{KeyID: key.KeyID, EncryptedValue: "c2VhbGVk"}
	require.NoError(t, remote.SetSecret(ctx, "alpha/project", "NEXUS_WALLETS", sealed))

	ok, err := remote.SecretExists(ctx, "alpha/project", "NEXUS_WALLETS")
	require.NoError(t, err)
	assert.False(t, ok, "not visible yet")
	ok, err = remote.SecretExists(ctx, "alpha/project", "NEXUS_WALLETS")
	require.NoError(t, err)
	assert.True(t, ok)

	got, ok := svc.Secret("alpha/project", "NEXUS_WALLETS")
	require.True(t, ok)
	assert.Equal(t, sealed, got)

	require.NoError(t, remote.DeleteRepo(ctx, "alpha/project"))
	_, ok = svc.Secret("alpha/project", "NEXUS_WALLETS")
	assert.False(t, ok)
}
