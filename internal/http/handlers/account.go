package handlers

import (
	"net/http"
	"time"

	"quizora/internal/domain"
)

func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	acct, err := a.Ledger.Account(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	grant, err := a.Ledger.ActiveSubscription(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	a.json(w, http.StatusOK, toAccountDTO(acct, grant))
}

type toolDTO struct {
	Kind           string `json:"kind"`
	Cost           int64  `json:"cost"`
	Variable       bool   `json:"variable"`
	MaxCost        int64  `json:"max_cost,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type planDTO struct {
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
	Price   int64  `json:"price"`
	Days    int    `json:"days"`
}

// Tools lists the tool menu with prices and the purchasable plans.
func (a *App) Tools(w http.ResponseWriter, r *http.Request) {
	cat := a.Ledger.Catalog()
	tools := make([]toolDTO, 0, len(domain.OperationKinds))
	for _, kind := range domain.OperationKinds {
		dto := toolDTO{
			Kind:           string(kind),
			Cost:           cat.DeclaredCost(kind),
			Variable:       cat.IsVariable(kind),
			TimeoutSeconds: int(cat.Timeout(kind) / time.Second),
		}
		if v := cat.Tools[string(kind)].Variable; v != nil {
			dto.MaxCost = v.Max
		}
		tools = append(tools, dto)
	}
	plans := make([]planDTO, 0, len(cat.Plans))
	for _, name := range cat.PlanNames() {
		p := cat.Plans[name]
		plans = append(plans, planDTO{Name: name, Credits: p.Credits, Price: p.Price, Days: p.Days})
	}
	a.json(w, http.StatusOK, map[string]any{"tools": tools, "plans": plans})
}
