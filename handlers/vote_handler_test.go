package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"union-voting-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitVote_SingleChoice(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"}, "m1")
	url := fmt.Sprintf("/api/sessions/%d/vote", session.ID)

	w := postJSON(router, url, gin.H{
		"member_id": "m1",
		"option_id": session.Options[0].ID,
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["voter_hash"])
	// 响应中绝不出现成员ID或内部voter ID
	assert.NotContains(t, w.Body.String(), "m1")
	assert.NotContains(t, w.Body.String(), "voter_id")

	var count int64
	db.Model(&models.Vote{}).Where("session_id = ?", session.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSubmitVote_Duplicate(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"}, "m1")
	url := fmt.Sprintf("/api/sessions/%d/vote", session.ID)
	body := gin.H{"member_id": "m1", "option_id": session.Options[0].ID}

	w := postJSON(router, url, body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(router, url, body)
	assert.Equal(t, http.StatusConflict, w.Code)

	var count int64
	db.Model(&models.Vote{}).Where("session_id = ?", session.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSubmitVote_Refusals(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"}, "m1")
	url := fmt.Sprintf("/api/sessions/%d/vote", session.ID)
	optionID := session.Options[0].ID

	tests := []struct {
		name         string
		url          string
		body         gin.H
		expectedCode int
	}{
		{
			name:         "Session not found",
			url:          "/api/sessions/9999/vote",
			body:         gin.H{"member_id": "m1", "option_id": optionID},
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "Not eligible",
			url:          url,
			body:         gin.H{"member_id": "stranger", "option_id": optionID},
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "Unknown option",
			url:          url,
			body:         gin.H{"member_id": "m1", "option_id": 9999},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Ranked payload on single-choice session",
			url:          url,
			body:         gin.H{"member_id": "m1", "ranking": []uint{optionID}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Missing member_id",
			url:          url,
			body:         gin.H{"option_id": optionID},
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(router, tc.url, tc.body)
			assert.Equal(t, tc.expectedCode, w.Code)
		})
	}

	// 所有被拒的请求都不会留下选票
	var count int64
	db.Model(&models.Vote{}).Where("session_id = ?", session.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSubmitVote_ClosedSession(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"}, "m1")
	require.NoError(t, db.Model(&models.VotingSession{}).
		Where("id = ?", session.ID).
		Update("status", models.SessionClosed).Error)

	w := postJSON(router, fmt.Sprintf("/api/sessions/%d/vote", session.ID), gin.H{
		"member_id": "m1",
		"option_id": session.Options[0].ID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitVote_Ranked(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.RankedChoice, []string{"A", "B", "C"}, "m1")
	a, b, c := session.Options[0].ID, session.Options[1].ID, session.Options[2].ID

	w := postJSON(router, fmt.Sprintf("/api/sessions/%d/vote", session.ID), gin.H{
		"member_id": "m1",
		"ranking":   []uint{c, a, b},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	var vote models.Vote
	require.NoError(t, db.Where("session_id = ?", session.ID).First(&vote).Error)
	ranking, err := vote.RankedOptionIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint{c, a, b}, ranking)
}

func TestSubmitProxyVote(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"}, "principal", "delegate")
	delegateURL := fmt.Sprintf("/api/sessions/%d/delegate", session.ID)
	proxyURL := fmt.Sprintf("/api/sessions/%d/vote/proxy", session.ID)
	optionID := session.Options[0].ID

	// 登记委托
	w := postJSON(router, delegateURL, gin.H{"member_id": "principal", "delegate_to": "delegate"})
	assert.Equal(t, http.StatusOK, w.Code)

	// 委托人本人投票被拒
	w = postJSON(router, fmt.Sprintf("/api/sessions/%d/vote", session.ID), gin.H{
		"member_id": "principal",
		"option_id": optionID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 非登记代理人被拒
	w = postJSON(router, proxyURL, gin.H{
		"delegate_id": "stranger", "principal_id": "principal", "option_id": optionID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 登记代理人投票成功
	w = postJSON(router, proxyURL, gin.H{
		"delegate_id": "delegate", "principal_id": "principal", "option_id": optionID,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	// 再次代理投票撞到同一台账记录
	w = postJSON(router, proxyURL, gin.H{
		"delegate_id": "delegate", "principal_id": "principal", "option_id": optionID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDelegate_SelfAndClosed(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"}, "m1")
	url := fmt.Sprintf("/api/sessions/%d/delegate", session.ID)

	// 委托给自己被拒
	w := postJSON(router, url, gin.H{"member_id": "m1", "delegate_to": "m1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 会话关闭后委托被拒
	require.NoError(t, db.Model(&models.VotingSession{}).
		Where("id = ?", session.ID).
		Update("status", models.SessionClosed).Error)
	w = postJSON(router, url, gin.H{"member_id": "m1", "delegate_to": "m2"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestImportRoster(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"})
	url := fmt.Sprintf("/api/sessions/%d/roster", session.ID)

	w := postJSON(router, url, gin.H{
		"entries": []gin.H{
			{"member_id": "m1"},
			{"member_id": "m2", "weight": 2},
			{"member_id": "m3", "eligible": false},
		},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["imported"])
	assert.Equal(t, float64(2), resp["total_eligible"])

	// 空名册是绑定层错误
	w = postJSON(router, url, gin.H{"entries": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHasVotedEndpoint(t *testing.T) {
	router, db := SetupTestEnvironment(t)

	session := createOpenSession(t, db, models.SingleChoice, []string{"Yes", "No"}, "m1")
	votedURL := fmt.Sprintf("/api/sessions/%d/voted?member_id=m1", session.ID)

	check := func(url string) map[string]interface{} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", url, nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	assert.Equal(t, false, check(votedURL)["has_voted"])

	w := postJSON(router, fmt.Sprintf("/api/sessions/%d/vote", session.ID), gin.H{
		"member_id": "m1",
		"option_id": session.Options[0].ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, true, check(votedURL)["has_voted"])

	// member_id缺失是参数错误
	w = httptest.NewRecorder()
	req, _ := http.NewRequest("GET", fmt.Sprintf("/api/sessions/%d/voted", session.ID), nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
