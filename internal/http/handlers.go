package http

import (
	"context"
	"net/http"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/report"
	"bilancio/internal/services"
)

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.budget.Session(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.budget.Dashboard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Categories

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.budget.Categories()))
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c core.Category
	if err := decodeJSON(w, r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	c.ID = 0
	created, err := s.budget.AddCategory(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var c core.Category
	if err := decodeJSON(w, r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	c.ID = id
	updated, err := s.budget.UpdateCategory(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.budget.DeleteCategory)
}

// Members

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.budget.Members()))
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var m core.FamilyMember
	if err := decodeJSON(w, r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	m.ID = 0
	created, err := s.budget.AddMember(r.Context(), m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var m core.FamilyMember
	if err := decodeJSON(w, r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	m.ID = id
	updated, err := s.budget.UpdateMember(r.Context(), m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.budget.DeleteMember)
}

// Transactions

// handleListTransactions accepts optional from and to dates; to is exclusive.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.budget.Transactions(from, to)))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx core.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx.ID = 0
	created, err := s.budget.AddTransaction(r.Context(), tx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var tx core.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx.ID = id
	updated, err := s.budget.UpdateTransaction(r.Context(), tx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.budget.DeleteTransaction)
}

// Recurring payments

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.budget.RecurringPayments()))
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var rp core.RecurringPayment
	if err := decodeJSON(w, r, &rp); err != nil {
		s.writeError(w, r, err)
		return
	}
	rp.ID = 0
	created, err := s.budget.AddRecurringPayment(r.Context(), rp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRecurring(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var rp core.RecurringPayment
	if err := decodeJSON(w, r, &rp); err != nil {
		s.writeError(w, r, err)
		return
	}
	rp.ID = id
	updated, err := s.budget.UpdateRecurringPayment(r.Context(), rp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.budget.DeleteRecurringPayment)
}

// Limits

// handleListLimits lists the limits of ?month=YYYY-MM, the current month by
// default.
func (s *Server) handleListLimits(w http.ResponseWriter, r *http.Request) {
	month := core.MonthOf(s.now())
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := core.ParseMonthKey(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		month = m
	}
	writeJSON(w, http.StatusOK, nonNil(s.budget.CategoryLimits(month)))
}

type setLimitRequest struct {
	CategoryID   int64         `json:"categoryId"`
	Month        core.MonthKey `json:"monthKey"`
	MonthlyLimit core.Money    `json:"monthlyLimit"`
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req setLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Month == "" {
		req.Month = core.MonthOf(s.now())
	}
	l, err := s.budget.SetCategoryLimit(r.Context(), req.CategoryID, req.Month, req.MonthlyLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleDeleteLimit(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.budget.DeleteCategoryLimit)
}

// Invites

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.budget.Invites()))
}

type sendInviteRequest struct {
	Email       string    `json:"email"`
	InviterName string    `json:"inviterName"`
	Role        core.Role `json:"role"`
}

func (s *Server) handleSendInvite(w http.ResponseWriter, r *http.Request) {
	var req sendInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.budget.SendInvite(r.Context(), req.Email, req.InviterName, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

type inviteStatusRequest struct {
	Email  string            `json:"email"`
	Status core.InviteStatus `json:"status"`
}

func (s *Server) handleUpdateInviteStatus(w http.ResponseWriter, r *http.Request) {
	var req inviteStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.budget.UpdateInviteStatus(r.Context(), req.Email, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// Reports

type reportResponse struct {
	Kind               report.Kind `json:"kind"`
	Title              string      `json:"title"`
	From               time.Time   `json:"from"`
	To                 time.Time   `json:"to"`
	Income             core.Money  `json:"income"`
	Expense            core.Money  `json:"expense"`
	Balance            core.Money  `json:"balance"`
	PreviousExpense    core.Money  `json:"previousExpense"`
	TopExpenseCategory string      `json:"topExpenseCategory"`
	ExpenseTrend       string      `json:"expenseTrend"`
}

func newReportResponse(rep report.Report) reportResponse {
	return reportResponse{
		Kind:               rep.Kind,
		Title:              rep.Title,
		From:               rep.Period.From,
		To:                 rep.Period.To,
		Income:             rep.Income,
		Expense:            rep.Expense,
		Balance:            rep.Balance(),
		PreviousExpense:    rep.PreviousExpense,
		TopExpenseCategory: rep.TopExpenseCategory,
		ExpenseTrend:       rep.ExpenseTrend.String(),
	}
}

func reportKind(r *http.Request) (report.Kind, bool) {
	k := report.Kind(r.PathValue("kind"))
	return k, k.Valid()
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	kind, ok := reportKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown report kind"})
		return
	}
	rep, err := s.budget.Report(r.Context(), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(rep))
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	kind, ok := reportKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown report kind"})
		return
	}
	ref, err := s.budget.ExportReport(r.Context(), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

// Sync

type syncResponse struct {
	RunID      string `json:"runId"`
	Attempts   int    `json:"attempts"`
	Pushed     int    `json:"pushed"`
	Deleted    int    `json:"deleted"`
	Failed     int    `json:"failed"`
	Pulled     int    `json:"pulled"`
	Skipped    int    `json:"skipped"`
	Adopted    int    `json:"adopted"`
	DurationMs int64  `json:"durationMs"`
}

func newSyncResponse(res services.SyncResult) syncResponse {
	return syncResponse{
		RunID:      res.RunID,
		Attempts:   res.Attempts,
		Pushed:     res.Push.Pushed,
		Deleted:    res.Push.Deleted,
		Failed:     res.Push.Failed,
		Pulled:     res.Pulled,
		Skipped:    res.Skipped,
		Adopted:    res.Merge.Adopted,
		DurationMs: res.Duration.Milliseconds(),
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.budget.Sync(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSyncResponse(res))
}

type syncStatusResponse struct {
	Account     string             `json:"account"`
	State       services.SyncState `json:"state"`
	LastError   string             `json:"lastError,omitempty"`
	LastAttempt *time.Time         `json:"lastAttempt,omitempty"`
	LastSuccess *time.Time         `json:"lastSuccess,omitempty"`
	Queued      bool               `json:"queued"`
	LastResult  *syncResponse      `json:"lastResult,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.budget.SyncStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := syncStatusResponse{
		Account:     st.Account,
		State:       st.State,
		LastError:   st.LastError,
		LastAttempt: optionalTime(st.LastAttempt),
		LastSuccess: optionalTime(st.LastSuccess),
		Queued:      st.Queued,
	}
	if st.LastResult.RunID != "" {
		last := newSyncResponse(st.LastResult)
		resp.LastResult = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteByID(w http.ResponseWriter, r *http.Request, del func(ctx context.Context, id int64) error) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := del(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
