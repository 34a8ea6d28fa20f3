package types

type SourceStorage interface {
	LoadSources() ([]Source, error)
	SaveSources(sources []Source) error
}

type SampleStorage interface {
	AppendSamples(samples []Sample) error
	// LoadSamples calls handle for every stored sample with from <= ts < to.
	LoadSamples(from, to int64, handle func(Sample)) error
	PruneSamples(before int64) error
	Close() error
}

type ChangeNotifier interface {
	SourceChanged(change SourceChange) error
	SamplesAdded(samples []Sample) error
}

type NoopNotifier struct{}

func (NoopNotifier) SourceChanged(SourceChange) error { return nil }
func (NoopNotifier) SamplesAdded([]Sample) error      { return nil }
