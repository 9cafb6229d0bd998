package models

// Kind names one of the entity collections.
type Kind string

const (
	KindLeads Kind = "leads"
	KindDeals Kind = "deals"
	KindTasks Kind = "tasks"
)

var Kinds = []Kind{KindLeads, KindDeals, KindTasks}

func (k Kind) Valid() bool {
	return k == KindLeads || k == KindDeals || k == KindTasks
}
