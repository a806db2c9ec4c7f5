package handlers

import (
	"log"

	"union-voting-backend/database"
	"union-voting-backend/identity"
	"union-voting-backend/mq"
	"union-voting-backend/service"
)

// 全局服务实例，由InitHandlers装配
var (
	gate      *service.EligibilityGate
	ledger    *service.VoteLedger
	tally     *service.SimpleTallyEngine
	tabulator *service.RankedChoiceTabulator
	hub       *Hub
)

// InitHandlers 装配处理程序依赖。必须在数据库初始化之后调用；
// 派生器构造失败（密钥缺失/过短）是致命配置错误，由调用方决定退出。
func InitHandlers(deriver *identity.Deriver, publisher mq.Publisher) {
	gate = service.NewEligibilityGate(database.DB)
	ledger = service.NewVoteLedger(database.DB, gate, deriver, publisher)
	tally = service.NewSimpleTallyEngine(database.DB)
	tabulator = service.NewRankedChoiceTabulator(database.DB)

	hub = NewHub()
	go hub.Run()

	log.Println("投票处理程序已初始化")
}
