package audit

// MultiAuditor wraps multiple auditors and sends audit records to all of them.
type MultiAuditor struct {
	auditors []Auditor
}

// NewMultiAuditor creates a new MultiAuditor that sends to all provided
// auditors. Nil auditors are skipped.
func NewMultiAuditor(auditors ...Auditor) *MultiAuditor {
	m := &MultiAuditor{}
	for _, a := range auditors {
		if a != nil {
			m.auditors = append(m.auditors, a)
		}
	}
	return m
}

// AuditReport sends the record to all wrapped auditors.
func (m *MultiAuditor) AuditReport(rec Record) {
	for _, a := range m.auditors {
		a.AuditReport(rec)
	}
}
