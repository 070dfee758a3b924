package editor

// Transform is an empty transform that accumulates steps applied starting
// from a document, tracking the composite position Mapping as it goes
// (spec §4.2: "an empty transform T starting from the current editor
// document"). It is the one mutable scratch object the rebase engine
// builds and discards per rebase call.
type Transform struct {
	Doc     Doc
	Mapping *Mapping
	Steps   []Step
}

// NewTransform starts a transform from doc.
func NewTransform(doc Doc) *Transform {
	return &Transform{Doc: doc, Mapping: NewMapping()}
}

// Step applies s to the transform's current document, recording its
// position map. It returns an error if s fails to apply.
func (t *Transform) Step(s Step) error {
	newDoc, err := s.Apply(t.Doc)
	if err != nil {
		return err
	}
	t.Steps = append(t.Steps, s)
	if m, ok := s.(Mapped); ok {
		t.Mapping.AppendMap(m.StepMap())
	} else {
		// A step with no reported map is assumed to be position-neutral.
		t.Mapping.AppendMap(NewStepMap(nil))
	}
	t.Doc = newDoc
	return nil
}

// MaybeStep attempts to apply s, returning ok=false instead of an error
// if it fails to apply (spec §4.2 step 3: "T.maybeStep(m) succeeds").
func (t *Transform) MaybeStep(s Step) bool {
	if err := t.Step(s); err != nil {
		return false
	}
	return true
}
