package tasks

// Task Types
const (
	TypeWalletSweep    = "wallet:sweep"
	TypePaymentArchive = "payment:archive"
)

// WalletSweepPayload 钱包巡检任务载荷
// 巡检只是惰性转换的加速手段，引擎读路径不依赖它
type WalletSweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// PaymentArchivePayload 支付记录归档任务载荷
type PaymentArchivePayload struct {
	RetentionDays int `json:"retention_days"`
}
