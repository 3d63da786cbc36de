package mocks

//go:generate mockgen -destination=./mock_requester.go -package=mocks github.com/rxtech-lab/argo-alpaca/pkg/alpaca Requester
