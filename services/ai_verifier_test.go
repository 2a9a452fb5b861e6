package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAIVerifierClient_ParsesVerdict(t *testing.T) {
	client, _ := verifierServer(t, jsonVerdict(http.StatusOK, `{"approved":true,"reason":"clear proof","confidence":0.8}`))

	v, err := client.Verify(ctxBG, VerificationRequest{Image: proofPNG, TaskDescription: "Run 5k"})
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Equal(t, "clear proof", v.Reason)
	require.NotNil(t, v.Confidence)
	assert.InDelta(t, 0.8, *v.Confidence, 1e-9)
}

func TestAIVerifierClient_NullConfidenceIsAllowed(t *testing.T) {
	client, _ := verifierServer(t, jsonVerdict(http.StatusOK, `{"approved":false,"confidence":null}`))

	v, err := client.Verify(ctxBG, VerificationRequest{Image: proofPNG})
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Nil(t, v.Confidence)
}

func TestAIVerifierClient_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
		want error
	}{
		{"bad status", `rate limited`, http.StatusTooManyRequests, ErrVerifierBadStatus},
		{"garbage", `not json`, http.StatusOK, ErrVerifierMalformed},
		{"approved missing", `{"reason":"?"}`, http.StatusOK, ErrVerifierMalformed},
		{"approved wrong type", `{"approved":"yes"}`, http.StatusOK, ErrVerifierMalformed},
		{"negative confidence", `{"approved":true,"confidence":-0.1}`, http.StatusOK, ErrVerifierMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := verifierServer(t, jsonVerdict(tc.code, tc.body))
			_, err := client.Verify(ctxBG, VerificationRequest{Image: proofPNG})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAIVerifierClient_NotConfigured(t *testing.T) {
	var nilClient *AIVerifierClient
	_, err := nilClient.Verify(ctxBG, VerificationRequest{})
	assert.ErrorIs(t, err, ErrVerifierNotConfigured)

	_, err = NewAIVerifierClient("", "", 0).Verify(ctxBG, VerificationRequest{})
	assert.ErrorIs(t, err, ErrVerifierNotConfigured)
}

func TestAIVerifierClient_ContextDeadline(t *testing.T) {
	client, _ := verifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(ctxBG, 50*time.Millisecond)
	defer cancel()

	_, err := client.Verify(ctx, VerificationRequest{Image: proofPNG})
	assert.ErrorIs(t, err, ErrVerifierUnreachable)
}
