package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"kitty/internal/auth"
	"kitty/internal/core"
	"kitty/internal/ledger"
)

const dateLayout = "2006-01-02"

type groupJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expected    string `json:"expected"`
	CreatedAt   string `json:"created_at"`
}

type cycleJSON struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	Number    int    `json:"number"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Expected  string `json:"expected"`
	Status    string `json:"status"`
}

type memberJSON struct {
	ID          string `json:"id"`
	IdentityID  string `json:"identity_id"`
	GroupID     string `json:"group_id"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	JoinDate    string `json:"join_date"`
	Active      bool   `json:"active"`
}

type contributionJSON struct {
	ID         int64  `json:"id"`
	MemberID   string `json:"member_id"`
	CycleID    string `json:"cycle_id"`
	GroupID    string `json:"group_id"`
	Amount     string `json:"amount"`
	Method     string `json:"method"`
	RecordedBy string `json:"recorded_by"`
	RecordedAt string `json:"recorded_at"`
}

type balanceJSON struct {
	MemberID    string `json:"member_id"`
	CycleID     string `json:"cycle_id"`
	Contributed string `json:"contributed"`
	Expected    string `json:"expected"`
	Arrears     string `json:"arrears"`
}

type groupTotalJSON struct {
	GroupID          string `json:"group_id"`
	CycleID          string `json:"cycle_id"`
	TotalContributed string `json:"total_contributed"`
	TotalExpected    string `json:"total_expected"`
	MemberCount      int    `json:"member_count"`
}

type arrearsRowJSON struct {
	MemberID string `json:"member_id"`
	FullName string `json:"full_name"`
	Arrears  string `json:"arrears"`
}

func toGroupJSON(g core.Group) groupJSON {
	return groupJSON{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Expected:    g.Expected.String(),
		CreatedAt:   g.CreatedAt.Format(time.RFC3339),
	}
}

func toCycleJSON(c core.Cycle) cycleJSON {
	return cycleJSON{
		ID:        c.ID,
		GroupID:   c.GroupID,
		Number:    c.Number,
		StartDate: c.StartDate.Format(dateLayout),
		EndDate:   c.EndDate.Format(dateLayout),
		Expected:  c.Expected.String(),
		Status:    string(c.Status),
	}
}

func toMemberJSON(m core.Member) memberJSON {
	return memberJSON{
		ID:          m.ID,
		IdentityID:  m.IdentityID,
		GroupID:     m.GroupID,
		FullName:    m.FullName,
		PhoneNumber: m.PhoneNumber,
		JoinDate:    m.JoinDate.Format(dateLayout),
		Active:      m.Active,
	}
}

func toContributionJSON(c core.Contribution) contributionJSON {
	return contributionJSON{
		ID:         c.ID,
		MemberID:   c.MemberID,
		CycleID:    c.CycleID,
		GroupID:    c.GroupID,
		Amount:     c.Amount.String(),
		Method:     string(c.Method),
		RecordedBy: c.RecordedBy,
		RecordedAt: c.RecordedAt.Format(time.RFC3339Nano),
	}
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return core.DateOf(t), nil
}

func parseAmount(s string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(s))
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}

// identify extracts the caller and optionally requires treasurer access.
func (s *Server) identify(w http.ResponseWriter, r *http.Request, admin bool) (auth.Identity, bool) {
	id, err := auth.FromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return auth.Identity{}, false
	}
	if admin {
		if err := s.guard.AuthorizeAdmin(id); err != nil {
			writeError(w, r, err)
			return auth.Identity{}, false
		}
	}
	return id, true
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Expected    string `json:"expected"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	expected, err := parseAmount(req.Expected)
	if err != nil {
		writeError(w, r, err)
		return
	}

	group, err := s.registry.CreateGroup(r.Context(), req.Name, req.Description, expected)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupJSON(group))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, false); !ok {
		return
	}
	group, err := s.registry.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupJSON(group))
}

func (s *Server) handleAddCycle(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}

	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Expected  string `json:"expected"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var expected core.Money
	if req.Expected != "" {
		if expected, err = parseAmount(req.Expected); err != nil {
			writeError(w, r, err)
			return
		}
	}

	cycle, err := s.registry.AddCycle(r.Context(), r.PathValue("id"), start, end, expected)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCycleJSON(cycle))
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, false); !ok {
		return
	}
	cycles, err := s.registry.CyclesByGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]cycleJSON, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, toCycleJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}

	var req struct {
		IdentityID  string `json:"identity_id"`
		FullName    string `json:"full_name"`
		PhoneNumber string `json:"phone_number"`
		JoinDate    string `json:"join_date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	joinDate, err := parseDate(req.JoinDate)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	member, err := s.registry.RegisterMember(r.Context(), req.IdentityID, r.PathValue("id"), req.FullName, req.PhoneNumber, joinDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberJSON(member))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}
	members, err := s.registry.ListMembers(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]memberJSON, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberJSON(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r, false)
	if !ok {
		return
	}
	memberID := r.PathValue("id")
	if err := s.guard.AuthorizeMember(id, memberID); err != nil {
		writeError(w, r, err)
		return
	}

	member, err := s.registry.GetMember(r.Context(), memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberJSON(member))
}

func (s *Server) handleDeactivateMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}
	if err := s.registry.DeactivateMember(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMemberBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r, false)
	if !ok {
		return
	}
	memberID := r.PathValue("id")
	if err := s.guard.AuthorizeMember(id, memberID); err != nil {
		writeError(w, r, err)
		return
	}
	cycleID := strings.TrimSpace(r.URL.Query().Get("cycle_id"))
	if cycleID == "" {
		writeBadRequest(w, "cycle_id query parameter is required")
		return
	}

	balance, err := s.reports.MemberBalance(r.Context(), memberID, cycleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON{
		MemberID:    balance.MemberID,
		CycleID:     balance.CycleID,
		Contributed: balance.Contributed.String(),
		Expected:    balance.Expected.String(),
		Arrears:     balance.Arrears.String(),
	})
}

func (s *Server) handleGroupTotal(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}
	groupID := r.PathValue("id")
	cycleID := strings.TrimSpace(r.URL.Query().Get("cycle_id"))
	if cycleID == "" {
		writeBadRequest(w, "cycle_id query parameter is required")
		return
	}

	key := reportCacheKey(groupID, cycleID)
	total, cached := s.totalsCache.Get(key)
	if !cached {
		var err error
		total, err = s.reports.GroupTotal(r.Context(), groupID, cycleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.totalsCache.Set(key, total)
	}

	writeJSON(w, http.StatusOK, groupTotalJSON{
		GroupID:          total.GroupID,
		CycleID:          total.CycleID,
		TotalContributed: total.TotalContributed.String(),
		TotalExpected:    total.TotalExpected.String(),
		MemberCount:      total.MemberCount,
	})
}

func (s *Server) handleArrearsReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}
	groupID := r.PathValue("id")
	cycleID := strings.TrimSpace(r.URL.Query().Get("cycle_id"))
	if cycleID == "" {
		writeBadRequest(w, "cycle_id query parameter is required")
		return
	}

	key := reportCacheKey(groupID, cycleID)
	entries, cached := s.arrearsCache.Get(key)
	if !cached {
		var err error
		entries, err = s.reports.ArrearsReport(r.Context(), groupID, cycleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.arrearsCache.Set(key, entries)
	}

	out := make([]arrearsRowJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, arrearsRowJSON{
			MemberID: e.Member.ID,
			FullName: e.Member.FullName,
			Arrears:  e.Arrears.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecordContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r, true)
	if !ok {
		return
	}

	var req struct {
		MemberID string `json:"member_id"`
		CycleID  string `json:"cycle_id"`
		Amount   string `json:"amount"`
		Method   string `json:"method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Method != "" && !core.PaymentMethod(req.Method).Valid() {
		writeBadRequest(w, "invalid payment method: want bank, cash, mobile or other")
		return
	}

	c, err := s.contributions.Record(r.Context(), req.MemberID, req.CycleID, amount, core.PaymentMethod(req.Method), id.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateGroupReports(c.GroupID)
	writeJSON(w, http.StatusCreated, toContributionJSON(c))
}

func (s *Server) handleListContributions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r, true); !ok {
		return
	}

	q := r.URL.Query()
	f := ledger.Filter{
		MemberID: strings.TrimSpace(q.Get("member_id")),
		CycleID:  strings.TrimSpace(q.Get("cycle_id")),
		GroupID:  strings.TrimSpace(q.Get("group_id")),
	}
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "invalid from timestamp: want RFC3339")
			return
		}
		f.From = t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "invalid to timestamp: want RFC3339")
			return
		}
		f.To = t
	}

	entries, err := s.contributions.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]contributionJSON, 0, len(entries))
	for _, c := range entries {
		out = append(out, toContributionJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}
