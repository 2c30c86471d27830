package server

//go:generate swag init -g internal/server/swagger.go -o docs/swagger

// @title Web Scanner API
// @version 0.1
// @description Submit website scans, follow their progress and read normalized findings.
// @contact.name Web Scanner Maintainers
// @contact.url https://github.com/Vicaadrn/web-scanner-project
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
