package binance

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Key pairs and expected signatures from the official Binance REST API
// signing examples.
const (
	docsAPIKey    = "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A"
	docsAPISecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
)

func TestSignKnownVector(t *testing.T) {
	signer := NewSigner(NewCredentials(docsAPIKey, docsAPISecret))

	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	assert.Equal(t, want, signer.Sign(payload))
}

func TestSignRequestSortedVector(t *testing.T) {
	signer := NewSigner(NewCredentials(
		"vj1e6h50pFN9CsXT5nsL25JkTuBHkKw3zJhsA6OPtruIRalm20vTuXqF3htCZeWW",
		"5Cjj09rLKWNVe7fSalqgpilh5I3y6pPplhOukZChkusLqqi9mQyFk34kJJBTdlEJ",
	))

	body := url.Values{}
	body.Set("symbol", "ETHBTC")
	body.Set("side", "BUY")
	body.Set("type", "LIMIT")
	body.Set("timeInForce", "GTC")
	body.Set("quantity", "1")
	body.Set("price", "0.1")
	body.Set("recvWindow", "5000")
	body.Set("timestamp", "1540687064555")

	// url.Values.Encode sorts by key, which matches the documented
	// pre-sorted payload for this vector.
	want := "1ee5a75760b9496a2144a22116e02bc0b7fdcf828781fa87ca273540dfcf2cb0"
	assert.Equal(t, want, signer.SignRequest(nil, body))
}

func TestSignDeterministic(t *testing.T) {
	signer := NewSigner(NewCredentials(docsAPIKey, docsAPISecret))

	query := url.Values{}
	query.Set("symbol", "BTCUSDT")
	query.Set("timestamp", "1499827319559")

	first := signer.SignRequest(query, nil)
	second := signer.SignRequest(query, nil)
	require.Equal(t, first, second)

	query.Set("timestamp", "1499827319560")
	assert.NotEqual(t, first, signer.SignRequest(query, nil),
		"a different timestamp must change the signature")
}

func TestSignQueryAndBodyConcatenation(t *testing.T) {
	signer := NewSigner(NewCredentials(docsAPIKey, docsAPISecret))

	query := url.Values{}
	query.Set("symbol", "LTCBTC")
	body := url.Values{}
	body.Set("timestamp", "1499827319559")

	assert.Equal(t,
		signer.Sign(query.Encode()+body.Encode()),
		signer.SignRequest(query, body),
	)
}

func TestCredentialsRedaction(t *testing.T) {
	creds := NewCredentials("public-key", "super-secret-value")

	for _, rendered := range []string{
		creds.String(),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
		fmt.Sprintf("%s", creds),
	} {
		assert.NotContains(t, rendered, "super-secret-value")
		assert.Contains(t, rendered, "[REDACTED]")
	}
}

func TestCredentialsEmpty(t *testing.T) {
	assert.True(t, Credentials{}.Empty())
	assert.False(t, NewCredentials("k", "").Empty())
	assert.False(t, NewCredentials("", "s").Empty())
}
