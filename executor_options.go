package redistasks

// ExecutorOption is a functional option for configuring an Executor
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	factories []MiddlewareFactory
}

// WithMiddleware appends middleware factories to the chain in registration
// order: the first factory registered becomes the outermost layer.
func WithMiddleware(factories ...MiddlewareFactory) ExecutorOption {
	return func(o *executorOptions) {
		for _, f := range factories {
			if f != nil {
				o.factories = append(o.factories, f)
			}
		}
	}
}
