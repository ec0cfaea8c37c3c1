package loader

// Option configures a weight transplant.
type Option func(*options)

type options struct {
	progress func(key string)
}

// WithProgress registers fn to be called after each destination array is
// written.
func WithProgress(fn func(key string)) Option {
	return func(o *options) { o.progress = fn }
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) report(key string) {
	if o.progress != nil {
		o.progress(key)
	}
}
