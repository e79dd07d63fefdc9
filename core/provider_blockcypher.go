package core

// provider_blockcypher.go — BlockCypher REST adapter, wrapping its
// JSON chain API directly with net/http.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const blockCypherBase = "https://api.blockcypher.com/v1/doge/main"

type BlockCypherProvider struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewBlockCypherProvider(token string) *BlockCypherProvider {
	return &BlockCypherProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    blockCypherBase,
		token:      token,
	}
}

func (p *BlockCypherProvider) Name() string { return "blockcypher" }

func (p *BlockCypherProvider) withToken(u string) string {
	if p.token == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "token=" + url.QueryEscape(p.token)
}

func (p *BlockCypherProvider) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.withToken(p.baseURL+path), nil)
	if err != nil {
		return NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return NewProviderError(p.Name(), ProviderErrNotFound, fmt.Errorf("404: %s", string(body)))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return NewProviderError(p.Name(), ProviderErrDegraded, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 400 {
		return NewProviderError(p.Name(), ProviderErrRejected, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	return nil
}

type bcAddressResp struct {
	Balance        int64 `json:"balance"`
	UnconfirmedBal int64 `json:"unconfirmed_balance"`
}

func (p *BlockCypherProvider) GetBalance(ctx context.Context, address string) (Balance, error) {
	var resp bcAddressResp
	if err := p.getJSON(ctx, "/addrs/"+address+"/balance", &resp); err != nil {
		return Balance{}, err
	}
	return Balance{ConfirmedKoinu: Koinu(resp.Balance), UnconfirmedKoinu: Koinu(resp.UnconfirmedBal)}, nil
}

type bcTXRef struct {
	TxHash        string `json:"tx_hash"`
	TxOutputN     int64  `json:"tx_output_n"`
	Value         int64  `json:"value"`
	Script        string `json:"script"`
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height"`
	Spent         bool   `json:"spent"`
}

type bcAddressFullResp struct {
	TXRefs []bcTXRef `json:"txrefs"`
}

func (p *BlockCypherProvider) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var resp bcAddressFullResp
	if err := p.getJSON(ctx, "/addrs/"+address+"?unspentOnly=true", &resp); err != nil {
		return nil, err
	}
	out := make([]UTXO, 0, len(resp.TXRefs))
	for _, ref := range resp.TXRefs {
		if ref.Spent {
			continue
		}
		out = append(out, UTXO{
			OutPoint:      OutPoint{Txid: ref.TxHash, Vout: uint32(ref.TxOutputN)},
			Address:       address,
			Amount:        Koinu(ref.Value),
			ScriptPubKey:  ref.Script,
			Confirmations: ref.Confirmations,
			BlockHeight:   ref.BlockHeight,
		})
	}
	return out, nil
}

type bcTXResp struct {
	Hash          string `json:"hash"`
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height"`
}

func (p *BlockCypherProvider) GetTransaction(ctx context.Context, txid string) (*ProviderTxStatus, error) {
	var resp bcTXResp
	err := p.getJSON(ctx, "/txs/"+txid, &resp)
	if err != nil {
		if pe, ok := err.(*ProviderError); ok && pe.Kind == ProviderErrNotFound {
			return &ProviderTxStatus{Txid: txid, Found: false}, nil
		}
		return nil, err
	}
	return &ProviderTxStatus{
		Txid:          resp.Hash,
		Confirmations: resp.Confirmations,
		BlockHeight:   resp.BlockHeight,
		Found:         true,
	}, nil
}

func (p *BlockCypherProvider) GetTransactions(ctx context.Context, address string, limit int) ([]ProviderTx, error) {
	var resp struct {
		TXRefs []bcTXRef `json:"txrefs"`
	}
	if err := p.getJSON(ctx, fmt.Sprintf("/addrs/%s?limit=%d", address, limit), &resp); err != nil {
		return nil, err
	}
	byTx := make(map[string][]ProviderTxOutput)
	conf := make(map[string]int64)
	for _, ref := range resp.TXRefs {
		byTx[ref.TxHash] = append(byTx[ref.TxHash], ProviderTxOutput{
			Address:      address,
			ScriptPubKey: ref.Script,
			Amount:       Koinu(ref.Value),
			Vout:         uint32(ref.TxOutputN),
		})
		conf[ref.TxHash] = ref.Confirmations
	}
	out := make([]ProviderTx, 0, len(byTx))
	for txid, outputs := range byTx {
		out = append(out, ProviderTx{Txid: txid, Confirmations: conf[txid], Outputs: outputs})
	}
	return out, nil
}

type bcBroadcastReq struct {
	Tx string `json:"tx"`
}

type bcBroadcastResp struct {
	Tx struct {
		Hash string `json:"hash"`
	} `json:"tx"`
	Error string `json:"error"`
}

func (p *BlockCypherProvider) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	if _, err := hex.DecodeString(rawTxHex); err != nil {
		return "", NewProviderError(p.Name(), ProviderErrRejected, fmt.Errorf("invalid raw tx hex: %w", err))
	}
	payload, err := json.Marshal(bcBroadcastReq{Tx: rawTxHex})
	if err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.withToken(p.baseURL+"/txs/push"), strings.NewReader(string(payload)))
	if err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var parsed bcBroadcastResp
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 400 {
		return "", NewProviderError(p.Name(), ProviderErrRejected, fmt.Errorf("%s", parsed.Error))
	}
	return parsed.Tx.Hash, nil
}

type bcChainInfoResp struct {
	Height    int64 `json:"height"`
	HighFeePerKB int64 `json:"high_fee_per_kb"`
}

func (p *BlockCypherProvider) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var resp bcChainInfoResp
	if err := p.getJSON(ctx, "", &resp); err != nil {
		return NetworkInfo{}, err
	}
	return NetworkInfo{Height: resp.Height, FeeRateKoinu: Koinu(resp.HighFeePerKB / 1000)}, nil
}
