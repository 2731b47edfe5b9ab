package model

// PortfolioReport bundles everything the nightly workbook shows for one
// portfolio.
type PortfolioReport struct {
	PortfolioID  int64
	Positions    []Position
	Transactions []Transaction
	Snapshot     MetricsSnapshot
}
