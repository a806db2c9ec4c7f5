package service

import "errors"

var (
	// 业务错误定义
	ErrSessionNotFound   = errors.New("voting session not found")
	ErrSessionNotOpen    = errors.New("voting session is not open")
	ErrSessionClosed     = errors.New("voting session is closed")
	ErrOptionNotFound    = errors.New("voting option not found")
	ErrNotEligible       = errors.New("member is not eligible to vote in this session")
	ErrVoteDelegated     = errors.New("member has delegated their vote to a proxy")
	ErrNotDelegate       = errors.New("member is not the registered proxy for this voter")
	ErrDuplicateVote     = errors.New("a ballot has already been cast for this voter")
	ErrNoBallots         = errors.New("no ballots cast")
	ErrTabulationOverrun = errors.New("ranked-choice tabulation exceeded the round safety bound")
	ErrBadBallot         = errors.New("ballot payload does not match the session ballot type")
)
