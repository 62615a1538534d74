package mocks

//go:generate mockgen -destination=./mock_decision.go -package=mocks github.com/rxtech-lab/argo-backtest/internal/decision Source,Classifier
//go:generate mockgen -destination=./mock_datasource.go -package=mocks github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource DataSource
