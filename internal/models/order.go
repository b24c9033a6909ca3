package models

import "math/big"

// OrderRequirements is what a consumer must pay to use one service of an asset.
type OrderRequirements struct {
	Did             string      `json:"did"`
	ServiceType     ServiceType `json:"service_type"`
	ServiceIndex    int         `json:"service_index"`
	Amount          *big.Int    `json:"amount"`
	DataToken       string      `json:"data_token"`
	ReceiverAddress string      `json:"receiver_address"`
}

// OrderReceipt is the proof of payment consumed by a compute submission.
type OrderReceipt struct {
	TxId         string      `json:"tx_id"`
	Did          string      `json:"did"`
	ServiceType  ServiceType `json:"service_type"`
	ServiceIndex int         `json:"service_index"`
	Amount       *big.Int    `json:"amount"`
	DataToken    string      `json:"data_token"`
	Consumer     string      `json:"consumer"`
}

type ComputeInput struct {
	Did          string `json:"documentId"`
	TransferTxId string `json:"transferTxId"`
	ServiceIndex int    `json:"serviceId"`
}

type AlgorithmRef struct {
	Did          string `json:"algorithmDid"`
	TransferTxId string `json:"algorithmTransferTxId"`
	DataToken    string `json:"algorithmDataToken"`
	ServiceIndex int    `json:"algorithmServiceId"`
}
