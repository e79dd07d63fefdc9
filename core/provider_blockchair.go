package core

// provider_blockchair.go — Blockchair REST adapter, the third backend
// in the failover set, giving the chain client enough independent
// providers that a single vendor outage never stalls the wallet.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const blockchairBase = "https://api.blockchair.com/dogecoin"

type BlockchairProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewBlockchairProvider(apiKey string) *BlockchairProvider {
	return &BlockchairProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    blockchairBase,
		apiKey:     apiKey,
	}
}

func (p *BlockchairProvider) Name() string { return "blockchair" }

func (p *BlockchairProvider) withKey(path string) string {
	if p.apiKey == "" {
		return p.baseURL + path
	}
	sep := "?"
	if containsQuery(path) {
		sep = "&"
	}
	return p.baseURL + path + sep + "key=" + p.apiKey
}

func containsQuery(path string) bool {
	for _, c := range path {
		if c == '?' {
			return true
		}
	}
	return false
}

func (p *BlockchairProvider) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.withKey(path), nil)
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

type bchDashboardResp struct {
	Data map[string]struct {
		Address struct {
			Balance            int64 `json:"balance"`
			UnconfirmedBalance int64 `json:"unconfirmed_balance"`
		} `json:"address"`
		UTXO []struct {
			TransactionHash string `json:"transaction_hash"`
			Index           uint32 `json:"index"`
			Value           int64  `json:"value"`
			BlockID         int64  `json:"block_id"`
		} `json:"utxo"`
	} `json:"data"`
}

func (p *BlockchairProvider) GetBalance(ctx context.Context, address string) (Balance, error) {
	var resp bchDashboardResp
	if err := p.getJSON(ctx, "/dashboards/address/"+address, &resp); err != nil {
		return Balance{}, err
	}
	entry, ok := resp.Data[address]
	if !ok {
		return Balance{}, nil
	}
	return Balance{
		ConfirmedKoinu:   Koinu(entry.Address.Balance),
		UnconfirmedKoinu: Koinu(entry.Address.UnconfirmedBalance),
	}, nil
}

func (p *BlockchairProvider) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var resp bchDashboardResp
	if err := p.getJSON(ctx, "/dashboards/address/"+address+"?limit=0,100", &resp); err != nil {
		return nil, err
	}
	entry, ok := resp.Data[address]
	if !ok {
		return nil, nil
	}
	out := make([]UTXO, 0, len(entry.UTXO))
	for _, u := range entry.UTXO {
		height := u.BlockID
		confirmations := int64(0)
		if height > 0 {
			confirmations = 1
		}
		out = append(out, UTXO{
			OutPoint:      OutPoint{Txid: u.TransactionHash, Vout: u.Index},
			Address:       address,
			Amount:        Koinu(u.Value),
			BlockHeight:   height,
			Confirmations: confirmations,
		})
	}
	return out, nil
}

type bchTxResp struct {
	Data map[string]struct {
		Transaction struct {
			Hash        string `json:"hash"`
			BlockID     int64  `json:"block_id"`
		} `json:"transaction"`
	} `json:"data"`
	Context struct {
		State int64 `json:"state"`
	} `json:"context"`
}

func (p *BlockchairProvider) GetTransaction(ctx context.Context, txid string) (*ProviderTxStatus, error) {
	var resp bchTxResp
	err := p.getJSON(ctx, "/dashboards/transaction/"+txid, &resp)
	if err != nil {
		if pe, ok := err.(*ProviderError); ok && pe.Kind == ProviderErrNotFound {
			return &ProviderTxStatus{Txid: txid, Found: false}, nil
		}
		return nil, err
	}
	entry, ok := resp.Data[txid]
	if !ok || entry.Transaction.BlockID <= 0 {
		return &ProviderTxStatus{Txid: txid, Found: false}, nil
	}
	confirmations := resp.Context.State - entry.Transaction.BlockID + 1
	if confirmations < 0 {
		confirmations = 0
	}
	return &ProviderTxStatus{
		Txid:          entry.Transaction.Hash,
		Confirmations: confirmations,
		BlockHeight:   entry.Transaction.BlockID,
		Found:         true,
	}, nil
}

func (p *BlockchairProvider) GetTransactions(ctx context.Context, address string, limit int) ([]ProviderTx, error) {
	var resp struct {
		Data map[string]struct {
			Transactions []string `json:"transactions"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, fmt.Sprintf("/dashboards/address/%s?limit=%d", address, limit), &resp); err != nil {
		return nil, err
	}
	entry, ok := resp.Data[address]
	if !ok {
		return nil, nil
	}
	out := make([]ProviderTx, 0, len(entry.Transactions))
	for _, txid := range entry.Transactions {
		out = append(out, ProviderTx{Txid: txid})
	}
	return out, nil
}

type bchBroadcastResp struct {
	Data struct {
		TransactionHash string `json:"transaction_hash"`
	} `json:"data"`
}

func (p *BlockchairProvider) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	payload, err := json.Marshal(map[string]string{"data": rawTxHex})
	if err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.withKey("/push/transaction"), bytes.NewReader(payload))
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
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 400 {
		return "", NewProviderError(p.Name(), ProviderErrRejected, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	var parsed bchBroadcastResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	return parsed.Data.TransactionHash, nil
}

func (p *BlockchairProvider) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var resp struct {
		Data struct {
			Blocks int64 `json:"blocks"`
			SuggestedTransactionFeePerByteSat int64 `json:"suggested_transaction_fee_per_byte_sat"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, "/stats", &resp); err != nil {
		return NetworkInfo{}, err
	}
	return NetworkInfo{Height: resp.Data.Blocks, FeeRateKoinu: Koinu(resp.Data.SuggestedTransactionFeePerByteSat)}, nil
}
