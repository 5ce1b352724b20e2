package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/stgisi414/langcampus-exchange-sub000/api"
	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/database"
	"github.com/stgisi414/langcampus-exchange-sub000/middleware"
	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"
	"github.com/stgisi414/langcampus-exchange-sub000/services"
)

func main() {
	// .env is optional; real deployments set environment variables directly.
	if err := godotenv.Load(); err == nil {
		log.Println("INFO: [Main] Loaded environment from .env file.")
	}

	config.LoadConfig()

	db, err := database.Init()
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to initialize database: %v", err)
	}

	runMigrations(db)

	// Repositories
	usageRepo := repository.NewUsageRepository(db)
	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	conversationRepo := repository.NewConversationRepository()
	log.Println("INFO: [Main] Repositories initialized.")

	// Services
	generationService := services.NewGenerationService()
	quotaService := services.NewQuotaService(usageRepo)
	turnService := services.NewTurnService(generationService)
	nudgeService := services.NewNudgeService(generationService)
	groupService := services.NewGroupService(groupRepo, userRepo, generationService)
	sessionService := services.NewSessionService(quotaService, turnService, nudgeService, groupService, conversationRepo, userRepo)
	log.Println("INFO: [Main] Services initialized.")

	apiHandler := api.NewAPIHandler(sessionService, groupService, quotaService)
	log.Println("INFO: [Main] API Handler initialized.")

	r := gin.Default()
	r.SetTrustedProxies(nil)

	r.Use(middleware.Logger())
	r.Use(middleware.Cors())
	log.Println("INFO: [Main] Middlewares registered.")

	registerRoutes(r, apiHandler)
	log.Println("INFO: [Main] Routes registered.")

	serverPort := ":" + config.AppConfig.Server.Port
	if config.AppConfig.Server.Port == "" {
		log.Println("WARN: [Main] Server port not configured, using default :8080.")
		serverPort = ":8080"
	}
	log.Printf("INFO: [Main] Starting server on port %s", serverPort)
	if err := r.Run(serverPort); err != nil {
		log.Fatalf("FATAL: [Main] Server failed to start: %v", err)
	}
}

func runMigrations(db *gorm.DB) {
	log.Println("INFO: [Main] Running database migrations...")
	err := db.AutoMigrate(
		&models.UsageCounters{},
		&models.UserDoc{},
		&models.Group{},
		&models.GroupMember{},
		&models.GroupMessage{},
	)
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to auto-migrate database: %v", err)
	}
	log.Println("INFO: [Main] Database migration completed.")
}

func registerRoutes(r *gin.Engine, handler *api.APIHandler) {
	apiGroup := r.Group("/api")
	{
		// Solo conversation
		chatGroup := apiGroup.Group("/chat")
		{
			chatGroup.POST("/open", handler.OpenChatHandler)
			chatGroup.POST("/close", handler.CloseChatHandler)
			chatGroup.POST("/send", handler.SendTextHandler)
			chatGroup.POST("/audio", handler.SendAudioHandler)
			chatGroup.POST("/quiz", handler.ShareQuizHandler)
			chatGroup.POST("/lesson", handler.StartLessonHandler)
			chatGroup.POST("/save", handler.SaveChatHandler)
			chatGroup.POST("/load", handler.LoadChatHandler)
		}

		// Metered side actions
		apiGroup.POST("/audio/play", handler.PlayAudioHandler)
		apiGroup.POST("/partners/search", handler.SearchHandler)
		apiGroup.GET("/usage/:userID", handler.UsageHandler)

		// Group sessions
		groupGroup := apiGroup.Group("/group")
		{
			groupGroup.POST("", handler.CreateGroupHandler)
			groupGroup.GET("/:groupID", handler.GetGroupHandler)
			groupGroup.GET("/:groupID/stream", handler.GroupStreamHandler)
			groupGroup.POST("/:groupID/join", handler.JoinGroupHandler)
			groupGroup.POST("/:groupID/leave", handler.LeaveGroupHandler)
			groupGroup.POST("/:groupID/topic", handler.SetTopicHandler)
			groupGroup.POST("/:groupID/message", handler.PostGroupMessageHandler)
			groupGroup.POST("/:groupID/delete", handler.DeleteGroupHandler)
		}
	}
}
