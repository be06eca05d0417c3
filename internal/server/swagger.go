package server

//go:generate swag init -g internal/server/server.go -o docs

// @title OppHound API
// @version 0.1
// @description Interactive documentation for the opportunity discovery pipeline API surface.
// @contact.name OppHound Maintainers
// @contact.url https://github.com/opphound/opphound
// @BasePath /
