package web

import "html/template"

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="ru">
<head>
<meta charset="utf-8">
<title>Ассистент по внутренним документам</title>
<style>
body { font-family: sans-serif; max-width: 760px; margin: 2em auto; }
.msg { padding: .6em 1em; margin: .5em 0; border-radius: 8px; }
.user { background: #e8f0fe; }
.assistant { background: #f4f4f4; }
form { display: flex; gap: .5em; margin-top: 1em; }
input[name=question] { flex: 1; padding: .5em; }
</style>
</head>
<body>
<h1>Ассистент по внутренним документам</h1>
{{range .Messages}}{{if .User}}<div class="msg user">{{.Text}}</div>
{{else}}<div class="msg assistant">{{.HTML}}</div>
{{end}}{{end}}
<form method="post" action="/ask">
<input name="question" placeholder="Задайте вопрос" autofocus>
<button type="submit">Спросить</button>
</form>
</body>
</html>
`))
