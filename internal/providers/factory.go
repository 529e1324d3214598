package providers

import "fmt"

// Framework is a supported adapter tag. Unknown tags are rejected at config
// load, so New only sees valid ones in practice.
type Framework string

const (
	FrameworkOpenAI    Framework = "openai"
	FrameworkAnthropic Framework = "anthropic"
	FrameworkSimulated Framework = "simulated"
)

// ParseFramework validates a raw framework tag.
func ParseFramework(s string) (Framework, error) {
	switch Framework(s) {
	case FrameworkOpenAI, FrameworkAnthropic, FrameworkSimulated:
		return Framework(s), nil
	}
	return "", fmt.Errorf("unknown framework %q", s)
}

// New constructs the adapter for a framework tag.
func New(fw Framework, opts Options, images *ImageResolver) (Adapter, error) {
	switch fw {
	case FrameworkOpenAI:
		return NewOpenAIAdapter(opts, images), nil
	case FrameworkAnthropic:
		return NewAnthropicAdapter(opts), nil
	case FrameworkSimulated:
		return NewSimulatedAdapter(opts), nil
	}
	return nil, fmt.Errorf("unknown framework %q", fw)
}
