package core

// provider_sochain.go — SoChain REST adapter, the second independent
// backend in the failover set. Same net/http-direct shape as
// provider_blockcypher.go.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const soChainBase = "https://sochain.com/api/v2"

type SoChainProvider struct {
	httpClient *http.Client
	baseURL    string
	network    string
}

func NewSoChainProvider(net Network) *SoChainProvider {
	netName := "DOGE"
	if net == NetworkTestnet {
		netName = "DOGETEST"
	}
	return &SoChainProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    soChainBase,
		network:    netName,
	}
}

func (p *SoChainProvider) Name() string { return "sochain" }

func (p *SoChainProvider) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
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
	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	if envelope.Status != "success" {
		return NewProviderError(p.Name(), ProviderErrRejected, fmt.Errorf("non-success status: %s", envelope.Status))
	}
	return json.Unmarshal(envelope.Data, out)
}

type scBalanceData struct {
	ConfirmedBalance   string `json:"confirmed_balance"`
	UnconfirmedBalance string `json:"unconfirmed_balance"`
}

func parseDogeString(s string) Koinu {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return DogeToKoinu(f)
}

func (p *SoChainProvider) GetBalance(ctx context.Context, address string) (Balance, error) {
	var data scBalanceData
	if err := p.getJSON(ctx, "/get_address_balance/"+p.network+"/"+address, &data); err != nil {
		return Balance{}, err
	}
	return Balance{
		ConfirmedKoinu:   parseDogeString(data.ConfirmedBalance),
		UnconfirmedKoinu: parseDogeString(data.UnconfirmedBalance),
	}, nil
}

type scUTXO struct {
	Txid          string `json:"txid"`
	OutputNo      uint32 `json:"output_no"`
	ScriptHex     string `json:"script_hex"`
	Value         string `json:"value"`
	Confirmations int64  `json:"confirmations"`
}

type scUnspentData struct {
	Txs []scUTXO `json:"txs"`
}

func (p *SoChainProvider) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var data scUnspentData
	if err := p.getJSON(ctx, "/get_tx_unspent/"+p.network+"/"+address, &data); err != nil {
		return nil, err
	}
	out := make([]UTXO, 0, len(data.Txs))
	for _, tx := range data.Txs {
		out = append(out, UTXO{
			OutPoint:      OutPoint{Txid: tx.Txid, Vout: tx.OutputNo},
			Address:       address,
			Amount:        parseDogeString(tx.Value),
			ScriptPubKey:  tx.ScriptHex,
			Confirmations: tx.Confirmations,
		})
	}
	return out, nil
}

type scTxData struct {
	Txid          string `json:"txid"`
	Confirmations int64  `json:"confirmations"`
	BlockNo       int64  `json:"block_no"`
}

func (p *SoChainProvider) GetTransaction(ctx context.Context, txid string) (*ProviderTxStatus, error) {
	var data scTxData
	err := p.getJSON(ctx, "/get_tx/"+p.network+"/"+txid, &data)
	if err != nil {
		if pe, ok := err.(*ProviderError); ok && pe.Kind == ProviderErrNotFound {
			return &ProviderTxStatus{Txid: txid, Found: false}, nil
		}
		return nil, err
	}
	return &ProviderTxStatus{Txid: data.Txid, Confirmations: data.Confirmations, BlockHeight: data.BlockNo, Found: true}, nil
}

func (p *SoChainProvider) GetTransactions(ctx context.Context, address string, limit int) ([]ProviderTx, error) {
	var data struct {
		Txs []struct {
			Txid string `json:"txid"`
		} `json:"txs"`
	}
	if err := p.getJSON(ctx, "/get_tx_received/"+p.network+"/"+address, &data); err != nil {
		return nil, err
	}
	out := make([]ProviderTx, 0, len(data.Txs))
	for i, tx := range data.Txs {
		if i >= limit {
			break
		}
		out = append(out, ProviderTx{Txid: tx.Txid})
	}
	return out, nil
}

type scSendData struct {
	Txid string `json:"txid"`
}

func (p *SoChainProvider) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	var data scSendData
	path := "/send_tx/" + p.network
	form := url.Values{"tx_hex": {rawTxHex}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	if envelope.Status != "success" {
		return "", NewProviderError(p.Name(), ProviderErrRejected, fmt.Errorf("broadcast rejected: %s", string(envelope.Data)))
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return "", NewProviderError(p.Name(), ProviderErrDegraded, err)
	}
	return data.Txid, nil
}

func (p *SoChainProvider) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var data struct {
		BlockNo int64 `json:"blocks"`
	}
	if err := p.getJSON(ctx, "/get_info/"+p.network, &data); err != nil {
		return NetworkInfo{}, err
	}
	return NetworkInfo{Height: data.BlockNo}, nil
}
