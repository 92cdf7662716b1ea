package pgdao

// resultSink is the closed tagged variant over {empty, object, array,
// custom, model} described in spec §3. Dispatch is by static type, not
// inheritance.
//
// Values arrive from DataRow as raw field strings; a production build would
// thread them through the protocol library's type-parser registry keyed by
// (dataTypeID, format) before handing them to a sink. pgdao keeps the raw
// string form and lets HandlerCustom/model callers interpret it, which is
// sufficient for the text-format wire path this core targets.
type resultSink interface {
	addFields(fields []FieldDescriptor)
	addRow(raw []string) error
	complete(tag string, rows int64)
	end(err error)
	rowCount() int64
}

type sinkBase struct {
	fut  *future[any]
	tag  string
	rows int64
}

func (s *sinkBase) complete(tag string, rows int64) { s.tag, s.rows = tag, rows }
func (s *sinkBase) rowCount() int64                 { return s.rows }

// emptySink records the command tag and row count and resolves nil.
type emptySink struct {
	sinkBase
}

func newEmptySink(fut *future[any]) *emptySink {
	return &emptySink{sinkBase{fut: fut}}
}

func (s *emptySink) addFields([]FieldDescriptor) {}
func (s *emptySink) addRow([]string) error       { return nil }
func (s *emptySink) end(err error) {
	if err != nil {
		s.fut.reject(err)
		return
	}
	s.fut.resolve(nil)
}

// objectSink accumulates rows as maps keyed by column name.
type objectSink struct {
	sinkBase
	mask   ResultMask
	fields []FieldDescriptor
	rows_  []map[string]any
	done   bool
}

func newObjectSink(fut *future[any], mask ResultMask) *objectSink {
	return &objectSink{sinkBase: sinkBase{fut: fut}, mask: mask}
}

func (s *objectSink) addFields(f []FieldDescriptor) { s.fields = f }

func (s *objectSink) addRow(raw []string) error {
	if s.mask == MaskSingle && s.done {
		return nil // mask=single: rows past the first are discarded unparsed
	}
	obj := make(map[string]any, len(s.fields))
	for i, f := range s.fields {
		if i < len(raw) {
			obj[f.Name] = raw[i]
		}
	}
	s.rows_ = append(s.rows_, obj)
	if s.mask == MaskSingle {
		s.done = true
	}
	return nil
}

func (s *objectSink) end(err error) {
	if err != nil {
		s.fut.reject(err)
		return
	}
	if s.mask == MaskSingle {
		if len(s.rows_) == 0 {
			s.fut.resolve(nil)
			return
		}
		s.fut.resolve(s.rows_[0])
		return
	}
	if s.rows_ == nil {
		s.rows_ = []map[string]any{}
	}
	s.fut.resolve(s.rows_)
}

// arraySink accumulates rows as positional tuples.
type arraySink struct {
	sinkBase
	mask ResultMask
	rows_ [][]string
	done bool
}

func newArraySink(fut *future[any], mask ResultMask) *arraySink {
	return &arraySink{sinkBase: sinkBase{fut: fut}, mask: mask}
}

func (s *arraySink) addFields([]FieldDescriptor) {}

func (s *arraySink) addRow(raw []string) error {
	if s.mask == MaskSingle && s.done {
		return nil
	}
	row := make([]string, len(raw))
	copy(row, raw)
	s.rows_ = append(s.rows_, row)
	if s.mask == MaskSingle {
		s.done = true
	}
	return nil
}

func (s *arraySink) end(err error) {
	if err != nil {
		s.fut.reject(err)
		return
	}
	if s.mask == MaskSingle {
		if len(s.rows_) == 0 {
			s.fut.resolve(nil)
			return
		}
		s.fut.resolve(s.rows_[0])
		return
	}
	if s.rows_ == nil {
		s.rows_ = [][]string{}
	}
	s.fut.resolve(s.rows_)
}

// customSink invokes a caller-supplied parser for every row.
type customSink struct {
	sinkBase
	mask   ResultMask
	fields []FieldDescriptor
	parse  CustomRowParser
	rows_  []any
	done   bool
}

func newCustomSink(fut *future[any], mask ResultMask, parse CustomRowParser) *customSink {
	return &customSink{sinkBase: sinkBase{fut: fut}, mask: mask, parse: parse}
}

func (s *customSink) addFields(f []FieldDescriptor) { s.fields = f }

func (s *customSink) addRow(raw []string) error {
	if s.mask == MaskSingle && s.done {
		return nil
	}
	v, err := s.parse(raw, s.fields)
	if err != nil {
		return err
	}
	s.rows_ = append(s.rows_, v)
	if s.mask == MaskSingle {
		s.done = true
	}
	return nil
}

func (s *customSink) end(err error) {
	if err != nil {
		s.fut.reject(err)
		return
	}
	if s.mask == MaskSingle {
		if len(s.rows_) == 0 {
			s.fut.resolve(nil)
			return
		}
		s.fut.resolve(s.rows_[0])
		return
	}
	if s.rows_ == nil {
		s.rows_ = []any{}
	}
	s.fut.resolve(s.rows_)
}

// modelLoader is supplied by the session: it hands a raw row to the store,
// which returns an identity-mapped entity.
type modelLoader func(fields []FieldDescriptor, raw []string) (any, error)

// modelSink hands each row to the session's store.
type modelSink struct {
	sinkBase
	mask   ResultMask
	fields []FieldDescriptor
	load   modelLoader
	rows_  []any
	done   bool
}

func newModelSink(fut *future[any], mask ResultMask, load modelLoader) *modelSink {
	return &modelSink{sinkBase: sinkBase{fut: fut}, mask: mask, load: load}
}

func (s *modelSink) addFields(f []FieldDescriptor) { s.fields = f }

func (s *modelSink) addRow(raw []string) error {
	if s.mask == MaskSingle && s.done {
		return nil
	}
	v, err := s.load(s.fields, raw)
	if err != nil {
		return err
	}
	if v != nil {
		s.rows_ = append(s.rows_, v)
	}
	if s.mask == MaskSingle {
		s.done = true
	}
	return nil
}

func (s *modelSink) end(err error) {
	if err != nil {
		s.fut.reject(err)
		return
	}
	if s.mask == MaskSingle {
		if len(s.rows_) == 0 {
			s.fut.resolve(nil)
			return
		}
		s.fut.resolve(s.rows_[0])
		return
	}
	if s.rows_ == nil {
		s.rows_ = []any{}
	}
	s.fut.resolve(s.rows_)
}
