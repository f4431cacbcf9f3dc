package core

// ParamInjector is a pure function of (base, ctx) that returns an overlay
// to be shallow-merged over the effective params so far. Injectors must
// not consult the wall clock or environment — doing so would make
// fingerprints non-reproducible.
type ParamInjector interface {
	Inject(base any, ectx ExecutionContext) any
}

// ParamInjectorFunc adapts a plain function to ParamInjector.
type ParamInjectorFunc func(base any, ectx ExecutionContext) any

func (f ParamInjectorFunc) Inject(base any, ectx ExecutionContext) any {
	return f(base, ectx)
}

// CompositeInjector holds an ordered list of injectors and folds them
// over a base params value in list order.
type CompositeInjector struct {
	Injectors []ParamInjector
}

// NewCompositeInjector builds a CompositeInjector from an ordered list.
func NewCompositeInjector(injectors ...ParamInjector) *CompositeInjector {
	return &CompositeInjector{Injectors: injectors}
}

// Apply computes effective_params = base, then repeatedly
// effective_params = ShallowMerge(effective_params, injector.Inject(...))
// in list order.
func (c *CompositeInjector) Apply(base any, ectx ExecutionContext) any {
	effective := base
	for _, inj := range c.Injectors {
		overlay := inj.Inject(effective, ectx)
		effective = ShallowMerge(effective, overlay)
	}
	return effective
}
