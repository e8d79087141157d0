package main

//go:generate swag init -g cmd/fidus/main.go -o docs

// @title           FIDUS MT5 Reconciliation API
// @version         0.1.0
// @description     MT5 account sync, true P&L, deal classification and broker rebates.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
