// Package cli реализует инструмент командной строки Tribunal.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Tribunal API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления кейсами, definitions и очередью.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Tribunal API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	cases, err := client.ListCases(cli.ListCasesOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: tribunal case list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - case: submit, list, show, history, cancel
//   - definition: register, list, show
//   - queue: stats, deadletters, replay
//
// Каждая группа создаётся через фабричную функцию (NewCaseCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
