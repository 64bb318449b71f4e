package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
	"docchat/internal/infra/config"
)

func TestStaticTokenAuthValid(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "secret-123", Name: "preview"}})

	info, err := auth.Authenticate("secret-123")
	require.NoError(t, err)
	assert.Equal(t, "preview", info.Name)
}

func TestStaticTokenAuthInvalid(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "secret-123", Name: "preview"}})

	_, err := auth.Authenticate("wrong-token")
	assert.ErrorIs(t, err, domain.ErrGatewayAuthFailed)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestStaticTokenAuthSkipsEmptyTokens(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "", Name: "blank"}})

	_, err := auth.Authenticate("")
	assert.ErrorIs(t, err, domain.ErrGatewayAuthFailed)
}

func TestNewAuthenticator(t *testing.T) {
	open := NewAuthenticator(config.AuthConfig{})
	info, err := open.Authenticate("")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", info.Name)

	static := NewAuthenticator(config.AuthConfig{Type: "static", Tokens: []config.TokenConfig{{Token: "t", Name: "n"}}})
	_, err = static.Authenticate("")
	assert.ErrorIs(t, err, domain.ErrGatewayAuthFailed)
}
