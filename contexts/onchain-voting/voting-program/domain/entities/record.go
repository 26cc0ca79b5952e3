package entities

// RecordKind is the closed set of record kinds the program persists.
type RecordKind uint8

const (
	KindCounter RecordKind = iota + 1
	KindPoll
	KindCandidate
	KindVoter
	KindRegistration
)

func (k RecordKind) String() string {
	switch k {
	case KindCounter:
		return "Counter"
	case KindPoll:
		return "Poll"
	case KindCandidate:
		return "Candidate"
	case KindVoter:
		return "Voter"
	case KindRegistration:
		return "Registration"
	default:
		return "Unknown"
	}
}

// RecordKinds lists every kind in discriminant order.
func RecordKinds() []RecordKind {
	return []RecordKind{KindCounter, KindPoll, KindCandidate, KindVoter, KindRegistration}
}

// Record is implemented by the five persisted record kinds only.
type Record interface {
	Kind() RecordKind
	Address() Address
}

func (Counter) Kind() RecordKind      { return KindCounter }
func (Poll) Kind() RecordKind         { return KindPoll }
func (Candidate) Kind() RecordKind    { return KindCandidate }
func (Voter) Kind() RecordKind        { return KindVoter }
func (Registration) Kind() RecordKind { return KindRegistration }

func (Counter) Address() Address        { return CounterAddress() }
func (p Poll) Address() Address         { return PollAddress(p.ID) }
func (c Candidate) Address() Address    { return CandidateAddress(c.PollID, c.CandidateID) }
func (v Voter) Address() Address        { return VoterAddress(v.Identity) }
func (r Registration) Address() Address { return RegistrationAddress(r.PollID, r.Voter) }
