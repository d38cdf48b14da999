package interceptor

// State 是拦截器生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	// StateSuperseded 表示已被新代数取代，此后请求转交给后继实例。
	StateSuperseded State = "superseded"
	// StateRedundant 表示安装失败，实例被丢弃。
	StateRedundant State = "redundant"
)

// Status 是诊断接口使用的快照。
type Status struct {
	State      State  `json:"state"`
	Generation string `json:"generation"`
	Version    string `json:"version"`
	Assets     int    `json:"assets"`
	InFlight   int    `json:"inFlight"`
}
